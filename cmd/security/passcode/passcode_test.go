package passcode

import (
	"errors"
	"strings"
	"testing"
)

// testConfig keeps Argon2 cheap so the suite stays fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	h, err := cfg.Hash("mars-42")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$") {
		t.Fatalf("unexpected encoding: %q", h)
	}

	ok, err := cfg.Verify(h, "mars-42")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_Mismatch(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	h, err := cfg.Hash("mars-42")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	ok, err := cfg.Verify(h, "venus-7")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	cases := []string{
		"",
		"plain",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
	}
	for _, in := range cases {
		if _, err := cfg.Verify(in, "mars-42"); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q) err=%v want=ErrInvalidHash", in, err)
		}
	}
}

func TestValidate_Policy(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Policy.MinLength = 4
	cfg.Policy.MaxLength = 8

	cases := []struct {
		in   string
		want error
	}{
		{in: "abcd", want: nil},
		{in: "abc", want: ErrPasscodeTooShort},
		{in: "abcdefghi", want: ErrPasscodeTooLong},
		{in: "     ", want: ErrPasscodeBlank},
	}
	for _, tc := range cases {
		if got := cfg.Validate(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("Validate(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("COLO_PASSCODE_MIN_LEN", "6")
	t.Setenv("COLO_PASSCODE_MAX_LEN", "32")
	t.Setenv("COLO_PASSCODE_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("COLO_PASSCODE_ARGON2_ITERATIONS", "3")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 6 || cfg.Policy.MaxLength != 32 {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 8192 || cfg.Params.Iterations != 3 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != DefaultConfig().Params.SaltLength {
		t.Fatalf("unset field should keep default: %+v", cfg.Params)
	}
}

func TestFromEnv_RejectsInvertedPolicy(t *testing.T) {
	t.Setenv("COLO_PASSCODE_MIN_LEN", "20")
	t.Setenv("COLO_PASSCODE_MAX_LEN", "10")

	if _, err := FromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("FromEnv err=%v want=ErrConfig", err)
	}
}
