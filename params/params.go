// Package params decodes and validates the race parameters configuration
// bag threaded Driver -> Worker -> Adapter -> Pool -> Connection.
package params

import (
	"fmt"
	"time"

	validatorpkg "github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/corbalt/collide"
)

// ConnectMode is the IP-selection policy for hosts with multiple A/AAAA
// records.
type ConnectMode string

const (
	// ConnectSame forces every Connection to the same host, across every
	// Worker, onto one shared address.
	ConnectSame ConnectMode = "same"
	// ConnectDifferent forces each Worker's Connection to a distinct
	// address, cycling by worker_id mod len(addrs).
	ConnectDifferent ConnectMode = "different"
	// ConnectRandom lets each Connection pick uniformly at random.
	ConnectRandom ConnectMode = "random"
)

// SendKwargs is the enumerated, explicit subset of send-time options that a
// port exposes in place of the source's arbitrary keyword pass-through
// (spec.md §9 open question).
type SendKwargs struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// ProxyURL, if non-empty, must be a valid URL. Connections do not use
	// it: they always dial the target directly.
	ProxyURL string `mapstructure:"proxy_url" validate:"omitempty,url"`
	// RequestTimeout bounds a single request's total round trip, zero means
	// no per-request timeout beyond the barrier timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RaceParams is the fully-typed race parameters bag (spec.md §3).
type RaceParams struct {
	DoEval         bool          `mapstructure:"do_eval"`
	SaveSentCookies bool         `mapstructure:"save_sent_cookies"`
	SendKwargs     SendKwargs    `mapstructure:"send_kwargs"`
	ConnectMode    ConnectMode   `mapstructure:"connect_mode" validate:"omitempty,oneof=same different random"`
	TailBytes      int           `mapstructure:"tail_bytes" validate:"gte=1"`
	BarrierTimeout time.Duration `mapstructure:"barrier_timeout"`
}

// DefaultRaceParams holds the defaults Decode starts from: a one-byte tail,
// the "random" connect mode (which works against a host with a single
// address, whatever the worker count), and the ~30s barrier timeout from
// spec.md §5.
func DefaultRaceParams() RaceParams {
	return RaceParams{
		TailBytes:      1,
		ConnectMode:    ConnectRandom,
		BarrierTimeout: 30 * time.Second,
	}
}

// Decode builds a RaceParams from a loosely-typed configuration bag (the
// "map" shape spec.md describes race_args as), applying DefaultRaceParams
// as the zero value before mapstructure overlays the supplied keys.
func Decode(raw map[string]any) (RaceParams, error) {
	p := DefaultRaceParams()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return p, collide.NewError(collide.KindConfigurationFailure, "build decoder", err)
	}
	if err := dec.Decode(raw); err != nil {
		return p, collide.NewError(collide.KindConfigurationFailure, "decode race_args", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

var validate = validatorpkg.New()

// Validate checks struct-level constraints (e.g. tail_bytes >= 1, a
// recognized connect_mode) and returns a *collide.Error tagged
// ConfigurationFailure on the first violation found.
func (p RaceParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		if verrs, ok := err.(validatorpkg.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return collide.NewError(collide.KindConfigurationFailure,
				fmt.Sprintf("field %q failed constraint %q", fe.Namespace(), fe.ActualTag()), err)
		}
		return collide.NewError(collide.KindConfigurationFailure, "validate race_args", err)
	}
	if p.ConnectMode == "" {
		return nil
	}
	switch p.ConnectMode {
	case ConnectSame, ConnectDifferent, ConnectRandom:
		return nil
	default:
		return collide.NewError(collide.KindConfigurationFailure,
			fmt.Sprintf("unrecognized connect_mode %q", p.ConnectMode), nil)
	}
}
