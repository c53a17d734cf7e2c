package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/wb-go/wbf/zlog"

	"campusevents/internal/dto"
	"campusevents/internal/mailer"
	"campusevents/internal/rabbit"
	"campusevents/internal/repo"
)

// Reader consumes registration notifications and sends the confirmation
// e-mail off the request path.
type Reader struct {
	RMQ    *rabbit.Client
	store  repo.Store
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, store repo.Store) *Reader {
	return &Reader{
		RMQ:   rmq,
		store: store,
		done:  make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("RabbitMQ Reader started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var msg dto.RegistrationNotification
			if err := json.Unmarshal(body, &msg); err != nil {
				zlog.Logger.Error().
					Err(err).
					Msgf("Failed to unmarshal message: %s", string(body))
				return err
			}

			zlog.Logger.Info().
				Int64("registration_id", msg.RegistrationID).
				Int64("event_id", msg.EventID).
				Msg("Received registration notification")

			// The registration may have been cancelled between publish
			// and delivery; skip the mail in that case.
			reg, err := r.store.GetRegistrationByID(cctx, msg.RegistrationID)
			if err != nil {
				zlog.Logger.Error().
					Err(err).
					Int64("registration_id", msg.RegistrationID).
					Msg("Failed to get registration from DB in worker")
				return nil
			}
			if reg.Status != "registered" {
				zlog.Logger.Info().
					Int64("registration_id", msg.RegistrationID).
					Msg("Registration no longer active, skipping email")
				return nil
			}

			if err := mailer.SendRegistrationEmail(
				&zlog.Logger,
				msg.EventTitle,
				reg.Status,
				msg.StudentEmail,
			); err != nil {
				zlog.Logger.Warn().
					Err(err).
					Msg("Failed to send notification on e-mail")
			} else {
				zlog.Logger.Info().
					Str("email", msg.StudentEmail).
					Int64("registration_id", msg.RegistrationID).
					Msg("Confirmation email sent successfully")
			}

			return nil
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("RabbitMQ Reader stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
