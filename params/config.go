package params

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Storage struct {
	// DBPath is the Pebble database directory holding markets, accounts,
	// vaults, orders, and trade records.
	DBPath string
}

type API struct {
	Addr string
	// AllowedOrigins for CORS (wallet and dashboard UIs).
	AllowedOrigins []string
}

type Node struct {
	// LogFile receives the JSON log tee in addition to stdout.
	LogFile string
	// AuthorityKeyHex is the matching authority's secp256k1 private key.
	// Only set on a devnet node that runs the authority in-process; in
	// production the authority signs remotely and the node only verifies.
	AuthorityKeyHex string
}

type Config struct {
	Storage Storage
	API     API
	Node    Node
}

func Default() Config {
	return Config{
		Storage: Storage{DBPath: "data/ledger.db"},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Node: Node{LogFile: "data/clobd.log"},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("AUTHORITY_KEY"); v != "" {
		cfg.Node.AuthorityKeyHex = v
	}

	return cfg
}
