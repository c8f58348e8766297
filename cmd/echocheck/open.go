package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/echocheck/internal/config"
	"github.com/shaunagostinho/echocheck/internal/device"
	"github.com/shaunagostinho/echocheck/internal/transport"
)

const (
	retryInitialDelay = 1 * time.Second
	retryMaxDelay     = 10 * time.Second
)

// openWithRetry resolves and opens the device. With r.Wait set, failures
// are retried with exponential backoff until the wait expires; a missing
// port selection is never retried.
func openWithRetry(ctx context.Context, r *config.Run, log zerolog.Logger) (transport.Transport, error) {
	locator := device.NewLocator(log)
	deadline := time.Now().Add(r.Wait)
	delay := retryInitialDelay

	for attempt := 1; ; attempt++ {
		link, err := openOnce(locator, r, log)
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Str("port", link.Name()).Msg("device opened")
			}
			return link, nil
		}
		if errors.Is(err, device.ErrConfiguration) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, err
		}
		if delay > remaining {
			delay = remaining
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("device not ready")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

func openOnce(locator *device.Locator, r *config.Run, log zerolog.Logger) (transport.Transport, error) {
	name, err := locator.Resolve(r.Port, r.VID, r.PID)
	if err != nil {
		return nil, err
	}
	return transport.Open(transport.Config{
		Endpoint: name,
		BaudRate: r.BaudRate,
		Timeout:  r.Timeout,
		RTSCTS:   r.RTSCTS,
		DSRDTR:   r.DSRDTR,
		XONXOFF:  r.XONXOFF,
	}, log)
}
