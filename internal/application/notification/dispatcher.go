package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/metrics"
)

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type imageSender interface {
	SendImage(ctx context.Context, to, imageURL string) error
}

type mailer interface {
	SendEmail(to, subject, body string) error
}

type linkSigner interface {
	PreviewURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DownloadURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// Dispatcher delivers the finished portrait to the user out of band.
// Sends run on their own goroutines and never affect the request outcome.
type Dispatcher struct {
	sms         smsSender
	whatsapp    imageSender
	mailer      mailer
	links       linkSigner
	previewTTL  time.Duration
	downloadTTL time.Duration
	timeout     time.Duration
	metrics     *metrics.Metrics

	wg sync.WaitGroup
}

// DispatcherDeps wires a Dispatcher. Nil senders disable their channel.
type DispatcherDeps struct {
	SMS         smsSender
	WhatsApp    imageSender
	Mailer      mailer
	Links       linkSigner
	PreviewTTL  time.Duration
	DownloadTTL time.Duration
	Timeout     time.Duration
	Metrics     *metrics.Metrics
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{
		sms:         deps.SMS,
		whatsapp:    deps.WhatsApp,
		mailer:      deps.Mailer,
		links:       deps.Links,
		previewTTL:  deps.PreviewTTL,
		downloadTTL: deps.DownloadTTL,
		timeout:     deps.Timeout,
		metrics:     deps.Metrics,
	}
}

// Dispatch notifies the record's owner in the background. rec is copied.
func (d *Dispatcher) Dispatch(rec domain.GenerationRecord) {
	if rec.FinalArtifactKey == "" || (rec.Phone == "" && rec.Email == "") {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		d.send(ctx, &rec)
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) send(ctx context.Context, rec *domain.GenerationRecord) {
	preview, err := d.links.PreviewURL(ctx, rec.FinalArtifactKey, d.previewTTL)
	if err != nil {
		slog.Error("notification: presign failed", "record_id", rec.RecordID, "err", err)
		d.metrics.IncNotification("presign", err)
		return
	}

	if rec.Phone != "" {
		switch {
		case d.whatsapp != nil:
			err := d.whatsapp.SendImage(ctx, rec.Phone, preview)
			d.record("whatsapp", rec, err)
		case d.sms != nil:
			err := d.sms.SendSMS(ctx, rec.Phone, fmt.Sprintf("Hi %s, your portrait is ready: %s", rec.Name, preview))
			d.record("sms", rec, err)
		}
	}

	if rec.Email != "" && d.mailer != nil {
		download, err := d.links.DownloadURL(ctx, rec.FinalArtifactKey, domain.DownloadFilename(rec.RecordID), d.downloadTTL)
		if err != nil {
			slog.Warn("notification: download link unavailable", "record_id", rec.RecordID, "err", err)
			download = preview
		}
		body := fmt.Sprintf("Hi %s,\n\nYour portrait is ready.\n\nView: %s\nDownload: %s\n", rec.Name, preview, download)
		d.record("email", rec, d.mailer.SendEmail(rec.Email, "Your portrait is ready", body))
	}
}

func (d *Dispatcher) record(channel string, rec *domain.GenerationRecord, err error) {
	d.metrics.IncNotification(channel, err)
	if err != nil {
		slog.Error("notification failed", "channel", channel, "record_id", rec.RecordID, "err", err)
		return
	}
	slog.Info("notification sent", "channel", channel, "record_id", rec.RecordID)
}
