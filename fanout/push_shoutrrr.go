package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/yeremiapane/waiter-call/models"
)

// ShoutrrrPusher delivers to a device registered as a shoutrrr service URL
// (ntfy, telegram, pushover, ...).
type ShoutrrrPusher struct {
	timeout time.Duration
}

func NewShoutrrrPusher(timeout time.Duration) *ShoutrrrPusher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ShoutrrrPusher{timeout: timeout}
}

func (p *ShoutrrrPusher) Platform() string { return models.PlatformShoutrrr }

func (p *ShoutrrrPusher) Send(ctx context.Context, serviceURL string, msg PushMessage) error {
	sender, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return fmt.Errorf("shoutrrr sender for %s: %w", redactURL(serviceURL), err)
	}
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	sender.Timeout = timeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	params := types.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}
	if errs := sender.Send(msg.Body, &params); len(errs) > 0 {
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("shoutrrr send to %s: %w", redactURL(serviceURL), err)
		}
	}
	return nil
}

// redactURL keeps scheme and host; service URLs carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Scheme + "://" + u.Host
}

// ValidateShoutrrrURL checks that a URL can be turned into a sender.
func ValidateShoutrrrURL(serviceURL string) error {
	if _, err := shoutrrr.CreateSender(serviceURL); err != nil {
		return fmt.Errorf("invalid notification URL %s: %w", redactURL(serviceURL), err)
	}
	return nil
}
