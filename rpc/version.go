package rpc

import "sync/atomic"

// ProtocolVersion is a small positive integer identifying one revision of the
// wire protocol.
type ProtocolVersion uint64

const (
	// LowestSupportedVersion is the oldest protocol version this build can speak.
	LowestSupportedVersion ProtocolVersion = 1
	// HighestSupportedVersion is the newest protocol version this build can speak.
	HighestSupportedVersion ProtocolVersion = 3
	// CurrentVersion is the version a new ServiceProxy assumes its peer supports
	// until told otherwise.
	CurrentVersion = HighestSupportedVersion
)

// versionInBand reports whether v is within [LowestSupportedVersion, HighestSupportedVersion].
func versionInBand(v ProtocolVersion) bool {
	return v >= LowestSupportedVersion && v <= HighestSupportedVersion
}

// versionCache holds a ServiceProxy's cached remote protocol version. It is
// monotone-decreasing: CAS-downgrade only ever moves the value down, never up
//.
type versionCache struct {
	v atomic.Uint64
}

func newVersionCache() *versionCache {
	vc := &versionCache{}
	vc.v.Store(uint64(CurrentVersion))
	return vc
}

// current returns the cached version.
func (vc *versionCache) current() ProtocolVersion {
	return ProtocolVersion(vc.v.Load())
}

// downgrade CAS-updates the cache to newVersion iff newVersion is lower than the
// currently cached value. It never raises the cached value.
func (vc *versionCache) downgrade(newVersion ProtocolVersion) {
	for {
		old := vc.v.Load()
		if uint64(newVersion) >= old {
			return
		}
		if vc.v.CompareAndSwap(old, uint64(newVersion)) {
			return
		}
	}
}

// withVersionRetry calls op with cache.current(), and on CodeInvalidVersion
// (signalled by op returning isVersionMismatch=true) decrements the attempted
// version and retries, downgrading the cache on the first success. It returns
// CodeIncompatibleService if the version reaches zero without success.
func withVersionRetry[T any](
	cache *versionCache,
	op func(attempt ProtocolVersion) (T, bool, error),
) (T, error) {
	attempt := cache.current()
	var zero T
	for {
		result, mismatch, err := op(attempt)
		if !mismatch {
			if err == nil {
				cache.downgrade(attempt)
			}
			return result, err
		}
		if attempt <= LowestSupportedVersion {
			return zero, NewError(CodeIncompatibleService, "no common protocol version with peer")
		}
		attempt--
	}
}
