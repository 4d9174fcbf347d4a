package checks

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/velocity"
)

// ReferenceStore is the read-only slice of the reference data layer the
// checks consume. Implemented by *refdata.Store.
type ReferenceStore interface {
	LookupBlacklist(ctx context.Context, kind refdata.BlacklistKind, valueHash string) (*refdata.BlacklistEntry, error)
	LookupDisposableDomain(ctx context.Context, domain string) (*refdata.DisposableEmailDomain, error)
	LookupTorExitNode(ctx context.Context, ip string) (*refdata.TorExitNode, error)
	LookupASNByIP(ctx context.Context, addr netip.Addr) (*refdata.ASN, error)
	LookupKnownUserAgent(ctx context.Context, hash string) (*refdata.KnownUserAgent, error)
}

// VelocityCounter bumps short-window counters. Implemented by
// *velocity.Counter. A nil counter disables velocity sub-rules.
type VelocityCounter interface {
	Bump(ctx context.Context, kind, key string, window velocity.Window) (int64, error)
}

// Hasher is the keyed-hash slice of the vault the checks need: every
// blocklist and velocity key is a keyed hash, never plaintext.
type Hasher interface {
	Hash(value string) string
}

// ReputationSummary aggregates past audit records for one hashed value.
type ReputationSummary struct {
	Evaluations int
	AvgScore    float64
	BlockCount  int
}

// ReputationSource reads historical evaluations. Implemented by the
// postgres audit repository. A nil source disables reputation sub-rules.
type ReputationSource interface {
	HistoryByHash(ctx context.Context, fieldHash string, since time.Time) (ReputationSummary, error)
	DomainHistory(ctx context.Context, domain string, since time.Time) (ReputationSummary, error)
}

// Resolver is the DNS slice used by the email and domain checks. The
// stdlib *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DomainIntel answers domain-age and parked-domain questions via external
// collaborators. Failures degrade silently: the sub-rule contributes zero.
type DomainIntel interface {
	// AgeDays returns the registration age. ok=false means the source had
	// no answer, which contributes nothing to the score.
	AgeDays(ctx context.Context, domain string) (days int, ok bool)
	// IsParked reports whether the domain serves a parking page.
	IsParked(ctx context.Context, domain string) bool
}

// GeoInfo is what the geolocation collaborator knows about an IP.
type GeoInfo struct {
	CountryCode    string
	TimezoneOffset int // UTC offset in hours
	ASN            int64
	ASNOrg         string
}

// GeoLocator resolves IP geolocation and ASN via a collaborator API.
// Implemented by *geo.Client; failures degrade silently.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (*GeoInfo, bool)
}
