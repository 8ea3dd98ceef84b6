package commands

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backkem/pico/pkg/discovery"
	"github.com/backkem/pico/pkg/handshake"
	"github.com/backkem/pico/pkg/reauth"
	"github.com/backkem/pico/pkg/session"
	"github.com/backkem/pico/pkg/transport"
)

func serveCmd() *cobra.Command {
	var (
		oneShot bool
		token   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a verifier for paired provers",
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

			log := loggers.NewLogger("pico")

			svc := reauth.NewService(reauth.ServiceConfig{
				Timeout: cfg.Reauth.Interval.Duration,
				Grace:   cfg.Reauth.Grace.Duration,
				Listener: reauth.ListenerFuncs{
					OnPaused:    func(s *session.Session) { log.Infof("%s paused", s) },
					OnContinued: func(s *session.Session) { log.Infof("%s continued", s) },
					OnStopped:   func(s *session.Session) { log.Infof("%s stopped", s) },
					OnError:     func(s *session.Session) { log.Warnf("%s failed: %s", s, s.Error) },
				},
				Recorder:      session.NewTracker(session.TrackerConfig{Store: store, LoggerFactory: loggers}),
				LoggerFactory: loggers,
			})
			defer svc.Close()

			authorize := handshake.AcceptPairings(store, !oneShot)
			if token != "" {
				authorize = withAuthToken(authorize, []byte(token))
			}
			verifier, err := handshake.NewVerifier(handshake.VerifierConfig{
				KeyPair:       kp,
				Authorizer:    authorize,
				LoggerFactory: loggers,
			})
			if err != nil {
				return err
			}

			server, err := transport.NewServer(transport.ServerConfig{
				ListenAddr: cfg.Listen,
				Verifier:   verifier,
				Service:    svc,
				Store:      store,
				OnSession: func(r *handshake.Result, s *session.Session) {
					log.Infof("prover %s authenticated: %s", formatCommitment(r.PeerCommitment), s)
				},
				LoggerFactory: loggers,
			})
			if err != nil {
				return err
			}
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "serving %q on %s\ncommitment: %s\n",
				cfg.ServiceName, server.Addr(), formatCommitment(kp.Commitment()))

			if cfg.Advertise {
				adv, err := advertise(server.Addr(), kp.Commitment())
				if err != nil {
					return err
				}
				defer adv.Close()
				log.Infof("advertising as %q", adv.InstanceName())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			log.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().BoolVar(&oneShot, "one-shot", false, "authenticate without continuous authentication")
	cmd.Flags().StringVar(&token, "token", "", "auth token delivered to accepted provers")
	return cmd
}

func withAuthToken(next handshake.Authorizer, token []byte) handshake.Authorizer {
	return func(ctx context.Context, pub, extra []byte) (handshake.Decision, error) {
		d, err := next(ctx, pub, extra)
		if err == nil && d.Accept {
			d.ExtraData = token
		}
		return d, err
	}
}

func advertise(addr net.Addr, commitment []byte) (*discovery.Advertiser, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("cannot advertise %s address", addr.Network())
	}
	adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Port:          tcp.Port,
		LoggerFactory: loggers,
	})
	if err != nil {
		return nil, err
	}
	err = adv.Start(discovery.ServiceTXT{
		Name:       cfg.ServiceName,
		Commitment: commitment,
	})
	if err != nil {
		adv.Close()
		return nil, err
	}
	return adv, nil
}
