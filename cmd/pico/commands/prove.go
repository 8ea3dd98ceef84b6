package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/backkem/pico/pkg/discovery"
	"github.com/backkem/pico/pkg/handshake"
	"github.com/backkem/pico/pkg/reauth"
	"github.com/backkem/pico/pkg/session"
	"github.com/backkem/pico/pkg/transport"
)

func proveCmd() *cobra.Command {
	var (
		pairingName string
		address     string
		extra       string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Authenticate to a paired verifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := loadIdentity()
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			pairing, err := session.FindPairing(store, func(p *session.Pairing) bool {
				return len(p.ServiceCommitment) > 0 && (pairingName == "" || p.Name == pairingName)
			})
			if err != nil {
				return fmt.Errorf("no service pairing %q: %w", pairingName, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if address == "" {
				address = pairing.ServiceAddress
			}
			if address == "" {
				address, err = locate(ctx, pairing.ServiceCommitment)
				if err != nil {
					return err
				}
			}

			dialCtx, cancel := context.WithTimeout(ctx, timeout)
			client, err := transport.Dial(dialCtx, address, transport.ClientConfig{LoggerFactory: loggers})
			cancel()
			if err != nil {
				return err
			}
			defer client.Close()

			prover, err := handshake.NewProver(handshake.ProverConfig{
				KeyPair:                    kp,
				Channel:                    client,
				ExpectedVerifierCommitment: pairing.ServiceCommitment,
				ExtraData:                  []byte(extra),
				LoggerFactory:              loggers,
			})
			if err != nil {
				return err
			}
			proveCtx, cancel := context.WithTimeout(ctx, timeout)
			result, err := prover.Prove(proveCtx)
			cancel()
			if err != nil {
				return err
			}
			sess := result.NewSession(pairing.ID, time.Now())
			result.Wipe()
			if err := store.SaveSession(sess); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "authenticated to %s at %s\n", pairing.Name, address)
			if len(sess.AuthToken) > 0 {
				fmt.Fprintf(out, "auth token: %s\n", sess.AuthToken)
			}
			if !result.Continuous {
				crypto.Wipe(sess.SecretKey)
				return nil
			}
			return runContinuous(ctx, cmd, store, client, sess)
		},
	}
	cmd.Flags().StringVar(&pairingName, "pairing", "", "name of the service pairing (default: first)")
	cmd.Flags().StringVar(&address, "address", "", "verifier address, overrides the pairing and discovery")
	cmd.Flags().StringVar(&extra, "extra", "", "extra data sent to the verifier")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "handshake timeout")
	return cmd
}

// locate finds the verifier advertising commitment on the local network.
func locate(ctx context.Context, commitment []byte) (string, error) {
	resolver, err := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: loggers})
	if err != nil {
		return "", err
	}
	svc, err := resolver.FindByCommitment(ctx, commitment)
	if err != nil {
		return "", fmt.Errorf("locate verifier: %w", err)
	}
	return svc.Addr(), nil
}

// runContinuous keeps the session alive until the verifier ends it or the
// user interrupts, in which case the session is stopped.
func runContinuous(ctx context.Context, cmd *cobra.Command, store session.Store, ch reauth.Channel, sess *session.Session) error {
	out := cmd.OutOrStdout()
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	prover, err := reauth.NewProver(reauth.ProverConfig{
		Session:   sess,
		Channel:   ch,
		Scheduler: reauth.NewTimerScheduler(),
		Listener: reauth.ListenerFuncs{
			OnPaused:    func(s *session.Session) { fmt.Fprintln(out, "session paused") },
			OnContinued: func(s *session.Session) { fmt.Fprintln(out, "session continued") },
			OnStopped: func(s *session.Session) {
				fmt.Fprintln(out, "session stopped")
				finish()
			},
			OnError: func(s *session.Session) {
				fmt.Fprintf(out, "session failed: %s\n", s.Error)
				finish()
			},
		},
		Recorder:      session.NewTracker(session.TrackerConfig{Store: store, LoggerFactory: loggers}),
		LoggerFactory: loggers,
	})
	if err != nil {
		return err
	}
	defer prover.Close()
	if err := prover.Start(); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		if err := prover.Stop(); err != nil && !errors.Is(err, reauth.ErrSessionClosed) {
			return err
		}
	}
	if prover.State() == session.StatusError {
		return fmt.Errorf("session ended with %s", prover.Session().Error)
	}
	return nil
}
