package main

import (
	"database/sql"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/dommolloy/seeus/internal/api"
	"github.com/dommolloy/seeus/internal/db"
	"github.com/dommolloy/seeus/internal/llm"
	"github.com/dommolloy/seeus/internal/middleware"
	"github.com/dommolloy/seeus/internal/services"
	"github.com/dommolloy/seeus/internal/utils"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	addr := utils.SafeEnv("SEEUS_ADDR", ":8080")
	dbPath := os.Getenv("SEEUS_DB_PATH")
	migrationsDir := os.Getenv("SEEUS_MIGRATIONS_DIR")
	questionsPath := os.Getenv("SEEUS_QUESTIONS_PATH")
	inviteSecret := utils.SafeEnv("SEEUS_INVITE_SECRET", "dev-invite-secret")

	bank, err := loadBank(questionsPath)
	if err != nil {
		logger.Fatal("load question bank", zap.String("path", questionsPath), zap.Error(err))
	}

	var store api.Store
	if dbPath != "" {
		database, err := sql.Open("sqlite3", dbPath)
		if err != nil {
			logger.Fatal("open database", zap.String("path", dbPath), zap.Error(err))
		}
		if err := db.RunMigrations(database, migrationsDir); err != nil {
			logger.Fatal("run migrations", zap.Error(err))
		}
		store, err = db.NewStore(database)
		if err != nil {
			logger.Fatal("init sqlite store", zap.Error(err))
		}
		logger.Info("using sqlite store", zap.String("path", dbPath))
	} else {
		store = api.NewMemoryStore()
		logger.Warn("SEEUS_DB_PATH not set, using in-memory store")
	}

	var completer services.ChatCompleter
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		completer = llm.NewClient(
			utils.SafeEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			key,
			llm.WithModel(os.Getenv("OPENAI_MODEL")),
		)
		logger.Info("llm scoring enabled")
	} else {
		logger.Info("OPENAI_API_KEY not set, llm endpoints disabled")
	}

	mux := http.NewServeMux()
	router := api.NewRouter(store, bank, []byte(inviteSecret), completer, logger)
	router.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	handler := middleware.NoStore(middleware.CORS(middleware.RequestLog(logger, mux)))

	logger.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// loadBank reads a custom question bank when a path is configured, otherwise
// serves the built-in catalog.
func loadBank(path string) (*services.QuestionBank, error) {
	if path == "" {
		return services.DefaultBank(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return services.LoadBankJSON(data)
}
