package updater

import (
	"context"

	"github.com/oshokin/update-binary/internal/archive"
	"github.com/oshokin/update-binary/internal/channel"
	"github.com/oshokin/update-binary/internal/label"
	"github.com/oshokin/update-binary/internal/script"
)

// host exposes the command channel, the open package and the file contexts
// to a running script.
type host struct {
	channel *channel.Channel
	pkg     *archive.Package
	labels  *label.Handle
}

func (h *host) UiPrint(ctx context.Context, message string) error { //nolint:revive // Protocol name.
	return h.channel.UiPrint(ctx, message)
}

func (h *host) SetProgress(fraction float64) error {
	return h.channel.SetProgress(fraction)
}

func (h *host) Progress(fraction float64, seconds int) error {
	return h.channel.Progress(fraction, seconds)
}

func (h *host) Container() script.Container {
	if h.pkg == nil {
		return nil
	}

	return h.pkg
}

func (h *host) Labels() *label.Handle {
	return h.labels
}
