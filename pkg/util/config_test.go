package util_test

import (
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/proxyguard/log-watcher/pkg/util"
)

var _ = Describe("ParseCommaSeparatedHosts", func() {
	It("should trim whitespace and skip empty parts", func() {
		result := util.ParseCommaSeparatedHosts(" host1:9000 ,, host2:9000 ", 0)
		Expect(result).To(Equal([]string{"host1:9000", "host2:9000"}))
	})

	It("should add the default port where missing", func() {
		result := util.ParseCommaSeparatedHosts("ch1, ch2:9440, [::1]", 9000)
		Expect(result).To(Equal([]string{"ch1:9000", "ch2:9440", "[::1]:9000"}))
	})

	It("should handle empty string", func() {
		Expect(util.ParseCommaSeparatedHosts("", 9000)).To(BeEmpty())
	})
})

var _ = Describe("ParseLogLevel", func() {
	DescribeTable("maps level names",
		func(name string, expected slog.Level) {
			Expect(util.ParseLogLevel(name)).To(Equal(expected))
		},
		Entry("error", "error", slog.LevelError),
		Entry("warn", "warn", slog.LevelWarn),
		Entry("debug", "DEBUG", slog.LevelDebug),
		Entry("info", "info", slog.LevelInfo),
		Entry("unknown falls back to info", "verbose", slog.LevelInfo),
	)
})

var _ = Describe("ConfigSpec", func() {
	var configSpec util.ConfigSpec

	BeforeEach(func() {
		configSpec = util.ConfigSpec{
			"watcher.batch-size": util.ConfigVarSpec{
				DefaultValue: 100,
				EnvVar:       "TEST_UTIL_BATCH_SIZE",
			},
			"security.enabled": util.ConfigVarSpec{
				DefaultValue: true,
				EnvVar:       "TEST_UTIL_SECURITY_ENABLED",
			},
			"log-dir": util.ConfigVarSpec{
				DefaultValue: "/data/logs",
				EnvVar:       "TEST_UTIL_LOG_DIR",
			},
		}
	})

	AfterEach(func() {
		configSpec.Reset()
		_ = os.Unsetenv("TEST_UTIL_BATCH_SIZE")
		_ = os.Unsetenv("TEST_UTIL_SECURITY_ENABLED")
		_ = os.Unsetenv("TEST_UTIL_LOG_DIR")
	})

	It("should apply defaults", func() {
		Expect(configSpec.LoadConfiguration("", "", nil)).To(Succeed())
		Expect(configSpec.GetInt("watcher.batch-size")).To(Equal(100))
		Expect(configSpec.GetBool("security.enabled")).To(BeTrue())
		Expect(configSpec.GetString("log-dir")).To(Equal("/data/logs"))
	})

	It("should prefer environment variables over defaults", func() {
		Expect(os.Setenv("TEST_UTIL_BATCH_SIZE", "25")).To(Succeed())
		Expect(os.Setenv("TEST_UTIL_SECURITY_ENABLED", "false")).To(Succeed())

		Expect(configSpec.LoadConfiguration("", "", nil)).To(Succeed())
		Expect(configSpec.GetInt("watcher.batch-size")).To(Equal(25))
		Expect(configSpec.GetBool("security.enabled")).To(BeFalse())
	})

	It("should read values from a YAML file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("watcher:\n  batch-size: 7\n"), 0o600)).To(Succeed())

		Expect(configSpec.LoadConfiguration(path, "", nil)).To(Succeed())
		Expect(configSpec.GetInt("watcher.batch-size")).To(Equal(7))
	})

	It("should fail on a missing config file", func() {
		err := configSpec.LoadConfiguration("/nonexistent/config.yaml", "", nil)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("cannot read config"))
	})

	It("should register bool flags", func() {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		configSpec.AddFlag(flags, "security-enabled", "security.enabled")
		Expect(flags.Parse([]string{"--security-enabled=false"})).To(Succeed())

		Expect(configSpec.LoadConfiguration("", "", nil)).To(Succeed())
		Expect(configSpec.GetBool("security.enabled")).To(BeFalse())
	})
})

var _ = Describe("LoadDotEnv", func() {
	AfterEach(func() {
		_ = os.Unsetenv("TEST_UTIL_DOTENV_VALUE")
	})

	It("should ignore a missing file", func() {
		Expect(util.LoadDotEnv(filepath.Join(GinkgoT().TempDir(), ".env"))).To(Succeed())
	})

	It("should export variables from the file", func() {
		path := filepath.Join(GinkgoT().TempDir(), ".env")
		Expect(os.WriteFile(path, []byte("TEST_UTIL_DOTENV_VALUE=hello\n"), 0o600)).To(Succeed())

		Expect(util.LoadDotEnv(path)).To(Succeed())
		Expect(os.Getenv("TEST_UTIL_DOTENV_VALUE")).To(Equal("hello"))
	})

	It("should not override the process environment", func() {
		Expect(os.Setenv("TEST_UTIL_DOTENV_VALUE", "from-env")).To(Succeed())
		path := filepath.Join(GinkgoT().TempDir(), ".env")
		Expect(os.WriteFile(path, []byte("TEST_UTIL_DOTENV_VALUE=from-file\n"), 0o600)).To(Succeed())

		Expect(util.LoadDotEnv(path)).To(Succeed())
		Expect(os.Getenv("TEST_UTIL_DOTENV_VALUE")).To(Equal("from-env"))
	})
})
