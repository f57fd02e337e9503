package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks every failure caused by bad configuration input.
var ErrInvalid = errors.New("invalid configuration")

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

type ConfigureConfig struct {
	RPCURL                string
	WSURL                 string
	Commitment            rpc.CommitmentType
	AuthorityPath         string
	ProgramsPath          string
	ProgramsPathExplicit  bool
	NbPayers              int
	BalancePerPayerSOL    float64
	NbMints               int
	OrdersPerSide         int
	UserBatchSize         int
	MintDecimals          uint8
	SkipProgramDeployment bool
	OutputFile            string
	PostMintDelay         time.Duration
	TxTimeout             time.Duration
	SkipPreflight         bool
	ComputeUnitLimit      uint32
	RPCMaxRetries         int
	RPCRetryBaseDelay     time.Duration
	RPCRetryMaxDelay      time.Duration
	DBDSN                 string
	Log                   LogConfig
}

const (
	defaultRPCURL       = "http://127.0.0.1:8899"
	defaultOutputFile   = "configure/config.json"
	defaultProgramsFile = "configure/programs.json"

	maxPayerBalanceSOL = 1e9
)

func LoadConfigureConfig() (ConfigureConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigureConfig{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg, err := loadConfigureConfig()
	if err != nil {
		return ConfigureConfig{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, nil
}

func loadConfigureConfig() (ConfigureConfig, error) {
	authorityPath := envOrDefault("CONFIGURE_AUTHORITY_PATH", envOrDefault("SOLANA_KEYPAIR_PATH", "~/.config/solana/id.json"))
	expandedAuthority, err := expandHomePath(authorityPath)
	if err != nil {
		return ConfigureConfig{}, fmt.Errorf("expand authority path: %w", err)
	}

	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return ConfigureConfig{}, err
	}

	nbPayers, err := envNonNegativeInt("CONFIGURE_NB_PAYERS", 10)
	if err != nil {
		return ConfigureConfig{}, err
	}
	balancePerPayer, err := envSOL("CONFIGURE_PAYER_BALANCE_SOL", 1)
	if err != nil {
		return ConfigureConfig{}, err
	}
	nbMints, err := envInt("CONFIGURE_NB_MINTS", 10)
	if err != nil {
		return ConfigureConfig{}, err
	}
	ordersPerSide, err := envNonNegativeInt("CONFIGURE_ORDERS_PER_SIDE", 10)
	if err != nil {
		return ConfigureConfig{}, err
	}
	batchSize, err := envInt("CONFIGURE_USER_BATCH_SIZE", 10)
	if err != nil {
		return ConfigureConfig{}, err
	}
	decimals, err := envUint8("CONFIGURE_MINT_DECIMALS", 6)
	if err != nil {
		return ConfigureConfig{}, err
	}
	skipDeployment, err := envBool("CONFIGURE_SKIP_PROGRAM_DEPLOYMENT", false)
	if err != nil {
		return ConfigureConfig{}, err
	}
	postMintDelay, err := envDuration("CONFIGURE_POST_MINT_DELAY", 2*time.Second)
	if err != nil {
		return ConfigureConfig{}, err
	}
	txTimeout, err := envDuration("CONFIGURE_TX_TIMEOUT", 60*time.Second)
	if err != nil {
		return ConfigureConfig{}, err
	}
	skipPreflight, err := envBool("CONFIGURE_SKIP_PREFLIGHT", false)
	if err != nil {
		return ConfigureConfig{}, err
	}
	cuLimit, err := envUint32("CONFIGURE_COMPUTE_UNIT_LIMIT", 10_000_000)
	if err != nil {
		return ConfigureConfig{}, err
	}
	rpcMaxRetries, err := envNonNegativeInt("CONFIGURE_RPC_MAX_RETRIES", 3)
	if err != nil {
		return ConfigureConfig{}, err
	}
	rpcRetryBaseDelay, err := envDuration("CONFIGURE_RPC_RETRY_BASE_DELAY", 500*time.Millisecond)
	if err != nil {
		return ConfigureConfig{}, err
	}
	rpcRetryMaxDelay, err := envDuration("CONFIGURE_RPC_RETRY_MAX_DELAY", 5*time.Second)
	if err != nil {
		return ConfigureConfig{}, err
	}
	if rpcRetryMaxDelay < rpcRetryBaseDelay {
		return ConfigureConfig{}, fmt.Errorf("invalid CONFIGURE_RPC_RETRY_MAX_DELAY: must be >= CONFIGURE_RPC_RETRY_BASE_DELAY")
	}

	programsPath := strings.TrimSpace(valueForKey("CONFIGURE_PROGRAMS_FILE"))
	programsExplicit := programsPath != ""
	if !programsExplicit {
		programsPath = defaultProgramsFile
	}

	return ConfigureConfig{
		RPCURL:                envOrDefault("SOLANA_RPC_URL", defaultRPCURL),
		WSURL:                 envOrDefault("SOLANA_WS_URL", ""),
		Commitment:            commitment,
		AuthorityPath:         expandedAuthority,
		ProgramsPath:          programsPath,
		ProgramsPathExplicit:  programsExplicit,
		NbPayers:              nbPayers,
		BalancePerPayerSOL:    balancePerPayer,
		NbMints:               nbMints,
		OrdersPerSide:         ordersPerSide,
		UserBatchSize:         batchSize,
		MintDecimals:          decimals,
		SkipProgramDeployment: skipDeployment,
		OutputFile:            envOrDefault("CONFIGURE_OUTPUT_FILE", defaultOutputFile),
		PostMintDelay:         postMintDelay,
		TxTimeout:             txTimeout,
		SkipPreflight:         skipPreflight,
		ComputeUnitLimit:      cuLimit,
		RPCMaxRetries:         rpcMaxRetries,
		RPCRetryBaseDelay:     rpcRetryBaseDelay,
		RPCRetryMaxDelay:      rpcRetryMaxDelay,
		DBDSN:                 envOrDefault("CONFIGURE_DB_DSN", ""),
		Log:                   buildLogConfig("CONFIGURE", "configure"),
	}, nil
}

// Validate checks the invariants the run depends on after flags have been
// applied on top of the loaded values.
func (c ConfigureConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.RPCURL) == "":
		return fmt.Errorf("%w: rpc url is required", ErrInvalid)
	case strings.TrimSpace(c.AuthorityPath) == "":
		return fmt.Errorf("%w: authority keypair path is required", ErrInvalid)
	case strings.TrimSpace(c.OutputFile) == "":
		return fmt.Errorf("%w: output file is required", ErrInvalid)
	case c.NbMints < 1:
		return fmt.Errorf("%w: number of mints must be >= 1, got %d", ErrInvalid, c.NbMints)
	case c.NbPayers < 0:
		return fmt.Errorf("%w: number of payers must be >= 0, got %d", ErrInvalid, c.NbPayers)
	case c.OrdersPerSide < 0:
		return fmt.Errorf("%w: orders per side must be >= 0, got %d", ErrInvalid, c.OrdersPerSide)
	case c.OrdersPerSide >= 999:
		return fmt.Errorf("%w: orders per side must be < 999 so bid prices stay positive, got %d", ErrInvalid, c.OrdersPerSide)
	case c.UserBatchSize <= 0:
		return fmt.Errorf("%w: user batch size must be > 0, got %d", ErrInvalid, c.UserBatchSize)
	}
	if err := checkSOLAmount(c.BalancePerPayerSOL); err != nil {
		return fmt.Errorf("%w: payer balance %v", ErrInvalid, err)
	}
	return nil
}

// PayerBalanceLamports converts the per-user funding to lamports.
func (c ConfigureConfig) PayerBalanceLamports() uint64 {
	return uint64(math.Round(c.BalancePerPayerSOL * float64(solana.LAMPORTS_PER_SOL)))
}

// ExpandAuthorityPath applies home expansion to a path given on the command line.
func ExpandAuthorityPath(path string) (string, error) {
	expanded, err := expandHomePath(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("%w: expand authority path: %v", ErrInvalid, err)
	}
	return expanded, nil
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

// DefaultLogFile is where file logging goes when no path is configured.
func DefaultLogFile(serviceName string) string {
	return filepath.Join("logs", serviceName+".log")
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", DefaultLogFile(serviceName)))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	return ParseCommitment(raw)
}

// ParseCommitment maps a textual commitment level onto the rpc constant.
func ParseCommitment(raw string) (rpc.CommitmentType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(rpc.CommitmentProcessed):
		return rpc.CommitmentProcessed, nil
	case string(rpc.CommitmentConfirmed):
		return rpc.CommitmentConfirmed, nil
	case string(rpc.CommitmentFinalized):
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid commitment %q (expected processed|confirmed|finalized)", raw)
	}
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", key)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return v, nil
}

func envNonNegativeInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", key)
	}
	return v, nil
}

func envSOL(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if err := checkSOLAmount(v); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func checkSOLAmount(sol float64) error {
	if math.IsNaN(sol) || math.IsInf(sol, 0) || sol < 0 || sol > maxPayerBalanceSOL {
		return fmt.Errorf("must be between 0 and %d SOL, got %v", int64(maxPayerBalanceSOL), sol)
	}
	return nil
}

func envUint32(key string, fallback uint32) (uint32, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return uint32(v), nil
}

func envUint8(key string, fallback uint8) (uint8, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return uint8(v), nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		values, err := readConfigFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = err
			return
		}

		runtimeConfigValues = values
		runtimeConfigLoaded = true
		if absPath, err := filepath.Abs(configPath); err == nil {
			runtimeConfigPath = absPath
		} else {
			runtimeConfigPath = configPath
		}
	})
	return runtimeConfigErr
}

func readConfigFile(configPath string) (map[string]string, error) {
	body, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", configPath, err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", configPath, err)
	}

	flattened, err := flattenConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("flatten config file %q: %w", configPath, err)
	}
	return flattened, nil
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int64, uint64, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	if value := strings.TrimSpace(runtimeConfigValues[key]); value != "" {
		return value
	}
	return ""
}
