package colocation

import (
	"errors"
	"testing"
)

func TestOpError_UnwrapsKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := error(&OpError{Op: "share", Kind: ErrShare, Err: cause})

	if !errors.Is(err, ErrShare) || !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if got := KindOf(err); got != ErrShare {
		t.Fatalf("KindOf()=%v want=%v", got, ErrShare)
	}
	if got, want := err.Error(), "colocation: share: anchor share failed: boom"; got != want {
		t.Fatalf("Error()=%q want=%q", got, want)
	}
	if got := KindOf(cause); got != nil {
		t.Fatalf("KindOf(plain)=%v want=nil", got)
	}

	bare := &OpError{Op: "join", Kind: ErrCanceled}
	if got, want := bare.Error(), "colocation: join: operation canceled"; got != want {
		t.Fatalf("Error()=%q want=%q", got, want)
	}
}

func TestStateAndRoleStrings(t *testing.T) {
	t.Parallel()

	if got := StateAligning.String(); got != "aligning" {
		t.Fatalf("StateAligning.String()=%q", got)
	}
	if got := RoleClient.String(); got != "client" {
		t.Fatalf("RoleClient.String()=%q", got)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("COLO_SESSION_NAME", "mars")
	t.Setenv("COLO_CREATE_TIMEOUT", "3s")
	t.Setenv("COLO_LOAD_RETRY_MAX_TRIES", "4")
	t.Setenv("COLO_GROUP_POLL_INTERVAL", "0s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.SessionName != "mars" || cfg.CreateTimeout.String() != "3s" || cfg.LoadRetry.MaxTries != 4 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.GroupPollInterval != DefaultConfig().GroupPollInterval {
		t.Fatalf("GroupPollInterval=%v want default", cfg.GroupPollInterval)
	}
}
