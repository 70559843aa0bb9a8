package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kuitang/notevault/internal/ratelimit"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validTestConfig() Config {
	return Config{
		NoS3:            true,
		DataDir:         "/tmp/notevault",
		MasterKey:       strings.Repeat("a", 64),
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		PasswordHasher:  HasherArgon2,
		AuditSink:       AuditSinkFile,
		NoteQuotaBytes:  10 << 20,
		RateLimitConfig: defaultRateLimitConfig(),
	}
}

func defaultRateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		UserRPS:         10,
		UserBurst:       20,
		AdminRPS:        100,
		AdminBurst:      200,
		CleanupInterval: time.Hour,
	}
}

func TestValidate_TestModeMinimalConfigPasses(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid test-mode config, got error: %v", err)
	}
}

func TestValidate_RequiresS3CredentialsWithoutNoS3(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.NoS3 = false

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when S3 is enabled without credentials")
	}
	msg := err.Error()
	for _, expected := range []string{
		"AWS_ENDPOINT_URL_S3",
		"BUCKET_NAME",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
	} {
		if !strings.Contains(msg, expected) {
			t.Fatalf("expected validation error to mention %q, got: %v", expected, err)
		}
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.MasterKey = ""
	cfg.PasswordHasher = "md5"
	cfg.AuditSink = "syslog"
	cfg.AccessTokenTTL = 0
	cfg.BootstrapAdminUsername = "root"
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Len(t, vErr.Errors, 6)
}

func TestValidate_TokenSecrets(t *testing.T) {
	t.Parallel()
	secret := strings.Repeat("ab", 32)

	cfg := validTestConfig()
	cfg.AccessTokenSecret = secret
	cfg.RefreshTokenSecret = strings.Repeat("cd", 32)
	require.NoError(t, cfg.Validate())

	cfg.RefreshTokenSecret = strings.ToUpper(secret)
	require.ErrorContains(t, cfg.Validate(), "must differ")

	cfg.RefreshTokenSecret = "zz" + secret[2:]
	require.ErrorContains(t, cfg.Validate(), "REFRESH_TOKEN_SECRET must be hex")

	cfg.RefreshTokenSecret = "abcd"
	require.ErrorContains(t, cfg.Validate(), "REFRESH_TOKEN_SECRET must be at least 64")
}

func testValidate_RejectsInvalidMasterKey(t *rapid.T) {
	cfg := validTestConfig()

	n := rapid.IntRange(1, 128).Filter(func(n int) bool { return n != 64 }).Draw(t, "master_key_len")
	cfg.MasterKey = strings.Repeat("a", n)

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for bad master key length")
	}
	if !strings.Contains(err.Error(), "MASTER_KEY") {
		t.Fatalf("expected key-length error mentioning MASTER_KEY, got: %v", err)
	}
}

func TestValidate_RejectsInvalidMasterKey(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsInvalidMasterKey)
}

func FuzzValidate_RejectsInvalidMasterKey(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testValidate_RejectsInvalidMasterKey))
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("MASTER_KEY", strings.Repeat("0f", 32))
	t.Setenv("DATA_DIR", "/var/lib/notevault")
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("PASSWORD_HASHER", "bcrypt")
	t.Setenv("AUDIT_SINK", "sqlite")
	t.Setenv("NOTE_QUOTA_BYTES", "2048")
	t.Setenv("RATE_LIMIT_USER_RPS", "3")
	t.Setenv("BOOTSTRAP_ADMIN_USERNAME", "root")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "correct horse")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RESTRICT_ADMIN_REGISTRATION", "true")

	cfg, err := LoadConfig(true, ":7000")
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.ListenAddr, "flag overrides env")
	require.Equal(t, "/var/lib/notevault", cfg.DataDir)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, HasherBcrypt, cfg.PasswordHasher)
	require.Equal(t, AuditSinkSQLite, cfg.AuditSink)
	require.Equal(t, int64(2048), cfg.NoteQuotaBytes)
	require.Equal(t, 3.0, cfg.RateLimitConfig.UserRPS)
	require.Equal(t, ratelimit.DefaultConfig.AdminBurst, cfg.RateLimitConfig.AdminBurst)
	require.Equal(t, "root", cfg.BootstrapAdminUsername)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.RestrictAdminRegistration)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfig_AdminRegistrationOpenByDefault(t *testing.T) {
	t.Setenv("MASTER_KEY", strings.Repeat("0f", 32))
	t.Setenv("RESTRICT_ADMIN_REGISTRATION", "")
	cfg, err := LoadConfig(true, "")
	require.NoError(t, err)
	require.False(t, cfg.RestrictAdminRegistration)
}

func TestLoadConfig_MissingMasterKey(t *testing.T) {
	t.Setenv("MASTER_KEY", "")
	_, err := LoadConfig(true, "")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, err.Error(), "MASTER_KEY is required")
}

func TestParseFlags_TestImpliesNoS3(t *testing.T) {
	t.Parallel()
	noS3, addr := parseFlags(flag.NewFlagSet("t", flag.ContinueOnError), []string{"--test", "--addr", ":1234"})
	require.True(t, noS3)
	require.Equal(t, ":1234", addr)

	noS3, addr = parseFlags(flag.NewFlagSet("t", flag.ContinueOnError), nil)
	require.False(t, noS3)
	require.Empty(t, addr)
}

func TestHelperParsers_DefaultOnBadInput(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-an-int")
	t.Setenv("CFG_TEST_FLOAT", "not-a-float")
	t.Setenv("CFG_TEST_DUR", "not-a-duration")
	if got := parseIntOrDefault("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("parseIntOrDefault fallback mismatch: got=%d want=7", got)
	}
	if got := parseFloat64OrDefault("CFG_TEST_FLOAT", 3.5); got != 3.5 {
		t.Fatalf("parseFloat64OrDefault fallback mismatch: got=%v want=3.5", got)
	}
	if got := parseDurationOrDefault("CFG_TEST_DUR", 2*time.Minute); got != 2*time.Minute {
		t.Fatalf("parseDurationOrDefault fallback mismatch: got=%v want=%v", got, 2*time.Minute)
	}
}

func TestGetEnvOrDefault_TrimsWhitespace(t *testing.T) {
	key := "CFG_TEST_STR_" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.Setenv(key, "   value   "); err != nil {
		t.Fatalf("Setenv failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	if got := getEnvOrDefault(key, "fallback"); got != "value" {
		t.Fatalf("getEnvOrDefault trim mismatch: got=%q want=%q", got, "value")
	}
}
