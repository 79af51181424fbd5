package config

import (
	"flag"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

// Config - Global variable to export
var Config AppConfig

// AppConfig defines the application configuration
type AppConfig struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Redis         RedisConfig         `koanf:"redis"`
	Minio         MinioConfig         `koanf:"minio"`
	Milvus        MilvusConfig        `koanf:"milvus"`
	Gemini        GeminiConfig        `koanf:"gemini"`
	OpenAI        OpenAIConfig        `koanf:"openai"`
	KnowledgeBase KnowledgeBaseConfig `koanf:"knowledgebase"`
	Upload        UploadConfig        `koanf:"upload"`
	Processing    ProcessingConfig    `koanf:"processing"`
}

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Host  string `koanf:"host"`
	Port  int    `koanf:"port"`
	Debug bool   `koanf:"debug"`
}

// DatabaseConfig related to database
type DatabaseConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name"`
	TimeZone string `koanf:"timezone"`
	Pool     struct {
		IdleConnections int           `koanf:"idleconnections"`
		MaxConnections  int           `koanf:"maxconnections"`
		ConnLifeTime    time.Duration `koanf:"connlifetime"`
	} `koanf:"pool"`
}

// RedisConfig is the job queue / task store backend configuration.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// MinioConfig is the object storage configuration.
type MinioConfig struct {
	Host       string `koanf:"host"`
	Port       string `koanf:"port"`
	User       string `koanf:"user"`
	Password   string `koanf:"password"`
	BucketName string `koanf:"bucketname"`
	Secure     bool   `koanf:"secure"`
}

// MilvusConfig is the vector database configuration.
type MilvusConfig struct {
	Host           string `koanf:"host"`
	Port           string `koanf:"port"`
	CollectionName string `koanf:"collectionname"`
}

// GeminiConfig holds the analysis model credentials.
type GeminiConfig struct {
	APIKey string `koanf:"apikey"`
	Model  string `koanf:"model"`
}

// OpenAIConfig holds the embedding model credentials.
type OpenAIConfig struct {
	APIKey         string `koanf:"apikey"`
	EmbeddingModel string `koanf:"embeddingmodel"`
}

// KnowledgeBaseConfig points at the external knowledge base the processed
// documents are published to. Publication is skipped when the API key or the
// default dataset ID is empty.
type KnowledgeBaseConfig struct {
	URL              string `koanf:"url"`
	APIKey           string `koanf:"apikey"`
	DefaultDatasetID string `koanf:"defaultdatasetid"`
}

// UploadConfig bounds the accepted presentation files.
type UploadConfig struct {
	MaxFileSizeMB  int    `koanf:"maxfilesizemb"`
	AllowedFormats string `koanf:"allowedformats"`
	UploadDir      string `koanf:"uploaddir"`
	TempDir        string `koanf:"tempdir"`
}

// ProcessingConfig tunes the analysis pipeline.
type ProcessingConfig struct {
	SlidesPerBatch int           `koanf:"slidesperbatch"`
	OverlapSlides  int           `koanf:"overlapslides"`
	TaskTTL        time.Duration `koanf:"taskttl"`
	CallTimeout    time.Duration `koanf:"calltimeout"`
	ConvertTimeout time.Duration `koanf:"converttimeout"`
}

// AllowedFormatList returns the accepted file extensions, lowercased and
// without the leading dot.
func (u UploadConfig) AllowedFormatList() []string {
	parts := strings.Split(u.AllowedFormats, ",")
	formats := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := strings.TrimPrefix(strings.TrimSpace(p), "."); f != "" {
			formats = append(formats, strings.ToLower(f))
		}
	}
	return formats
}

// MaxFileSizeBytes returns the upload size limit in bytes.
func (u UploadConfig) MaxFileSizeBytes() int64 {
	return int64(u.MaxFileSizeMB) * 1024 * 1024
}

// Init - Assign global config to decoded config struct
func Init(filePath string) error {
	k := koanf.New(".")
	parser := yaml.Parser()

	if err := k.Load(confmap.Provider(map[string]any{
		"processing.slidesperbatch": 5,
		"processing.overlapslides":  1,
		"processing.taskttl":        24 * time.Hour,
		"processing.calltimeout":    120 * time.Second,
		"processing.converttimeout": 120 * time.Second,
		"upload.maxfilesizemb":      100,
		"upload.allowedformats":     "pptx,ppt,pdf",
	}, "."), nil); err != nil {
		log.Fatal(err.Error())
	}

	if err := k.Load(file.Provider(filePath), parser); err != nil {
		log.Fatal(err.Error())
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return err
	}

	if err := k.Unmarshal("", &Config); err != nil {
		return err
	}

	return ValidateConfig(&Config)
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return nil
}

var configFile string

func init() {
	flag.StringVar(&configFile, "file", "config/config.yaml", "configuration file")
}

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	flag.Parse()
	return configFile
}
