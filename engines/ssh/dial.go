package ssh

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruffel/sshkit"
	"go.uber.org/zap"
)

// Dial builds an Engine from cfg, wraps it in a session, connects, and
// authenticates with the configured methods in order: password, private key,
// agent. The first success wins. On failure the session is closed.
func Dial(ctx context.Context, cfg Config, opts ...sshkit.Option) (*sshkit.Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := New(WithConfig(cfg))
	s := sshkit.NewSession(eng, append([]sshkit.Option{sshkit.WithLogger(cfg.Logger)}, opts...)...)

	if err := connect(ctx, s, cfg); err != nil {
		_ = s.Close()

		return nil, err
	}

	return s, nil
}

func connect(ctx context.Context, s *sshkit.Session, cfg Config) error {
	if err := s.Configure(ctx, cfg.EngineConfig()); err != nil {
		return err
	}

	if err := s.Connect(ctx); err != nil {
		return err
	}

	var attempts []func() error

	if cfg.Password != "" {
		attempts = append(attempts, func() error {
			return s.AuthenticatePassword(ctx, cfg.Password)
		})
	}

	if cfg.PrivateKey != "" || cfg.PrivateKeyPath != "" {
		attempts = append(attempts, func() error {
			src := sshkit.KeySource{Path: cfg.PrivateKeyPath, Passphrase: []byte(cfg.Passphrase)}
			if cfg.PrivateKey != "" {
				src = sshkit.KeySource{PEM: []byte(cfg.PrivateKey), Passphrase: []byte(cfg.Passphrase)}
			}

			return s.WithKey(ctx, src, func(k sshkit.Key) error {
				return s.AuthenticateKey(ctx, k)
			})
		})
	}

	if cfg.UseAgent {
		attempts = append(attempts, func() error {
			return s.AuthenticateAgent(ctx)
		})
	}

	if len(attempts) == 0 {
		return errors.New("configuration error: no authentication method configured")
	}

	var errs []error

	for _, attempt := range attempts {
		err := attempt()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return err
		}

		cfg.Logger.Debug("authentication attempt failed", zap.Error(err))
		errs = append(errs, err)
	}

	return fmt.Errorf("all authentication methods failed: %w", errors.Join(errs...))
}
