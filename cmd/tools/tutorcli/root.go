package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/studypal/backend/internal/config"
	"github.com/zhouzirui/studypal/backend/internal/logging"
	"github.com/zhouzirui/studypal/backend/internal/model/tutor"
	"github.com/zhouzirui/studypal/backend/internal/render"
	"github.com/zhouzirui/studypal/backend/internal/service/prompt"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
	"github.com/zhouzirui/studypal/backend/internal/service/session"
)

const applicationName = "studypal"

var (
	providerFlag string
	noColor      bool
	logLevel     string
)

// configKeys are read from the config file and exported to the environment
// when the variable is not already set.
var configKeys = []string{
	"ark_api_key",
	"ark_access_key",
	"ark_secret_key",
	"ark_model",
	"ark_base_url",
	"openai_api_key",
	"openai_base_url",
	"openai_model_name",
	"chat_default_provider",
	"chat_system_prompt_file",
}

var rootCmd = &cobra.Command{
	Use:   "tutorcli",
	Short: "Chat with the StudyPal learning coach in the terminal",
	Long: `tutorcli opens an interactive tutoring session. Type a question to send
it; lines starting with "/" are commands (/help lists them). Settings come from
the environment, a .env file, or ~/.config/studypal/config.json.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVarP(&providerFlag, "provider", "p", "", `Provider to start with: "ark" or "openai"`)
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable ANSI styling")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level written to stderr")
}

func configDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Clean(filepath.Join(configHome, applicationName))
}

func initConfig() {
	_ = godotenv.Load()

	viper.AddConfigPath(configDir())
	viper.SetConfigType("json")
	viper.SetConfigName("config")

	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))
	viper.AutomaticEnv()

	// Silently ignore missing config file
	_ = viper.ReadInConfig()

	// 把配置文件中的值桥接到环境变量，config.Load 只读环境变量。
	for _, key := range configKeys {
		env := strings.ToUpper(key)
		if value := viper.GetString(key); value != "" && os.Getenv(env) == "" {
			_ = os.Setenv(env, value)
		}
	}
}

func runRoot(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := cfg.Log
	logCfg.Level = logLevel
	log := logging.NewWithWriter(logCfg, cmd.ErrOrStderr())

	system, err := prompt.Load(cfg.Chat.SystemPromptFile)
	if err != nil {
		return err
	}

	registry, err := provider.FromConfig(cmd.Context(), cfg, system, log)
	if err != nil {
		return fmt.Errorf("no provider available, set ARK_* or OPENAI_API_KEY: %w", err)
	}

	ctrl := session.NewController("cli", registry, providerFlag, log)
	tutors := tutor.NewMemoryStore(tutor.Seed())
	renderer := render.New(!noColor, log)

	r := newREPL(ctrl, tutors, renderer, cmd.InOrStdin(), cmd.OutOrStdout())
	return r.run(cmd.Context())
}
