package conf

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	LedgerChain   = "chain"
	LedgerSandbox = "sandbox"

	StorageAzure = "azure"
	StorageMcs   = "mcs"
	StorageLocal = "local"
)

var config *FlowNode

// FlowNode is the orchestrator node config
type FlowNode struct {
	API      API
	LEDGER   LEDGER
	PROVIDER PROVIDER
	STORAGE  STORAGE
	IDENTITY IDENTITY
	FLOW     FLOW
}

type API struct {
	Port          int
	RedisUrl      string
	RedisPassword string
	CrtFile       string
	KeyFile       string
}

type LEDGER struct {
	Mode               string
	NetworkUrl         string
	BlockConfirmations int
	TransactionTimeout Duration
	FactoryAddress     string
	MetadataContract   string
	MetadataCacheUri   string
}

type PROVIDER struct {
	Url string
}

type STORAGE struct {
	Backend       string
	BaseUrl       string
	Container     string
	ScratchDir    string
	FileCachePath string
}

type IDENTITY struct {
	Publisher string
	Consumer  string
}

type FLOW struct {
	Definition      string
	MintAmount      string
	TransferAmount  string
	PollInterval    Duration
	PollMaxInterval Duration
	PollMultiplier  float64
	PollAttempts    int
	PollTimeout     Duration
	Workers         int
}

// Duration decodes toml strings such as "30s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func InitConfig(repoPath string) error {
	configFile := filepath.Join(repoPath, "config.toml")

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	config = cfg
	return nil
}

// LoadConfig decodes a config file without touching the process-wide config.
func LoadConfig(configFile string) (*FlowNode, error) {
	cfg := defaultConfig()
	metaData, err := toml.DecodeFile(configFile, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed load config file, path: %s, error: %w", configFile, err)
	}
	if err := requiredFieldsAreGiven(metaData, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func GetConfig() *FlowNode {
	return config
}

func defaultConfig() *FlowNode {
	return &FlowNode{
		API: API{Port: 8085},
		LEDGER: LEDGER{
			Mode:               LedgerChain,
			BlockConfirmations: 1,
			TransactionTimeout: Duration{10 * time.Minute},
		},
		STORAGE: STORAGE{
			Backend:    StorageLocal,
			Container:  "alpha",
			ScratchDir: "~/Sample",
		},
		FLOW: FLOW{
			MintAmount:      "100",
			TransferAmount:  "5",
			PollInterval:    Duration{30 * time.Second},
			PollMaxInterval: Duration{2 * time.Minute},
			PollMultiplier:  1.5,
			PollTimeout:     Duration{30 * time.Minute},
			Workers:         2,
		},
	}
}

func requiredFieldsAreGiven(metaData toml.MetaData, cfg *FlowNode) error {
	requiredFields := [][]string{
		{"LEDGER"},
		{"PROVIDER"},
		{"STORAGE"},
		{"IDENTITY"},

		{"STORAGE", "BaseUrl"},

		{"IDENTITY", "Publisher"},
		{"IDENTITY", "Consumer"},
	}
	if cfg.LEDGER.Mode == LedgerChain {
		requiredFields = append(requiredFields,
			[]string{"LEDGER", "NetworkUrl"},
			[]string{"LEDGER", "FactoryAddress"},
			[]string{"LEDGER", "MetadataCacheUri"},
			[]string{"PROVIDER", "Url"},
		)
	}

	for _, v := range requiredFields {
		if !metaData.IsDefined(v...) {
			return fmt.Errorf("required field %v not given", v)
		}
	}

	switch cfg.LEDGER.Mode {
	case LedgerChain, LedgerSandbox:
	default:
		return fmt.Errorf("unknown ledger mode: %s", cfg.LEDGER.Mode)
	}
	switch cfg.STORAGE.Backend {
	case StorageAzure, StorageMcs, StorageLocal:
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.STORAGE.Backend)
	}
	return nil
}
