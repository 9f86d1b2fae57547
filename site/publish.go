package site

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	snapshotName      = "latest.json"
	snapshotSignature = "latest.json.asc"
)

// Snapshot is the document published after every refresh cycle.
type Snapshot struct {
	GeneratedAt   time.Time              `json:"generatedAt"`
	SigningKey    string                 `json:"signingKey,omitempty"`
	Distributions map[Type]*PublicRecord `json:"distributions"`
}

// Publisher uploads the latest set to object storage, with a detached
// signature next to it when a signer is configured.
type Publisher struct {
	objects *ObjectStore
	signer  *Signer
	now     func() time.Time
}

func NewPublisher(objects *ObjectStore, signer *Signer) *Publisher {
	return &Publisher{objects: objects, signer: signer, now: time.Now}
}

// Encode renders the snapshot document for latest.
func (p *Publisher) Encode(latest map[Type]*Record) ([]byte, error) {
	snap := Snapshot{
		GeneratedAt:   p.now().UTC(),
		Distributions: PublicSet(latest),
	}
	if p.signer != nil {
		snap.SigningKey = p.signer.Fingerprint()
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Publish is registered as the refresher's after-cycle hook. Failures are
// logged only.
func (p *Publisher) Publish(ctx context.Context, latest map[Type]*Record) {
	data, err := p.Encode(latest)
	if err != nil {
		slog.Error("Encoding snapshot failed", "error", err)
		return
	}

	if err := p.objects.Put(ctx, snapshotName, data, "application/json"); err != nil {
		slog.Error("Publishing snapshot failed", "error", err)
		return
	}

	if p.signer != nil {
		sig, err := p.signer.Sign(data)
		if err != nil {
			slog.Error("Signing snapshot failed", "error", err)
			return
		}
		if err := p.objects.Put(ctx, snapshotSignature, sig, "application/pgp-signature"); err != nil {
			slog.Error("Publishing snapshot signature failed", "error", err)
			return
		}
	}

	slog.Info("Published snapshot", "bytes", len(data), "signed", p.signer != nil)
}
