package views

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/delivery"
)

// AlarmPresenter shows ringing alarms as a full-screen terminal program.
type AlarmPresenter struct {
	in        io.Reader
	out       io.Writer
	altScreen bool
	decisions chan Decision
	logger    *zap.Logger
}

type PresenterOption func(*AlarmPresenter)

func WithIO(in io.Reader, out io.Writer) PresenterOption {
	return func(p *AlarmPresenter) {
		p.in = in
		p.out = out
	}
}

func WithAltScreen(enabled bool) PresenterOption {
	return func(p *AlarmPresenter) { p.altScreen = enabled }
}

func WithPresenterLogger(l *zap.Logger) PresenterOption {
	return func(p *AlarmPresenter) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewAlarmPresenter(opts ...PresenterOption) *AlarmPresenter {
	p := &AlarmPresenter{
		altScreen: true,
		decisions: make(chan Decision, 8),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decisions delivers the user's choice from each alarm screen.
func (p *AlarmPresenter) Decisions() <-chan Decision {
	return p.decisions
}

func (p *AlarmPresenter) Present(ctx context.Context, a delivery.Alert) (func(), error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.in != nil {
		opts = append(opts, tea.WithInput(p.in))
	}
	if p.out != nil {
		opts = append(opts, tea.WithOutput(p.out))
	}
	if p.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	prog := tea.NewProgram(NewAlarmScreen(a, p.decisions), opts...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, context.Canceled) {
			p.logger.Warn("alarm screen exited", zap.Int32("alarm_id", a.ID), zap.Error(err))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			go prog.Quit()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				prog.Kill()
				<-done
			}
		})
	}, nil
}
