package auth

import "github.com/DiegoLinaresM/test-auto/lib/metrics"

// VerifyLatency tracks end-to-end verification time, hash comparison included.
var VerifyLatency = metrics.NewHistogram(
	"authd_verify_duration_seconds",
	"Time spent verifying a login",
	metrics.DefaultLatencyBuckets,
)

func recordVerdict(k Kind) {
	switch k {
	case Authenticated:
		metrics.LoginAuthenticated.Inc()
	case InvalidCredentials:
		metrics.LoginInvalid.Inc()
	case AccountDisabled:
		metrics.LoginDisabled.Inc()
	case Unavailable:
		metrics.LoginUnavailable.Inc()
	}
}
