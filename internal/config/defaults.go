package config

// Default model files as published under the Xenova ONNX export layout.
const (
	defaultTextModelFile   = "onnx/text_model.onnx"
	defaultVisionModelFile = "onnx/vision_model.onnx"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Caption.Model == "" {
		cfg.Caption.Model = "gpt-4o-mini"
	}
	if cfg.Caption.APIKeyEnv == "" {
		cfg.Caption.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Caption.Prompt == "" {
		cfg.Caption.Prompt = "Describe the image unambiguously."
	}
	if cfg.Caption.MaxTokens == 0 {
		cfg.Caption.MaxTokens = 300
	}
	if cfg.Embedding.ModelID == "" {
		cfg.Embedding.ModelID = "Xenova/clip-vit-base-patch32"
	}
	if cfg.Embedding.CacheDir == "" {
		cfg.Embedding.CacheDir = "/usr/local/var/miru/models"
	}
	if cfg.Embedding.TextModelFile == "" {
		cfg.Embedding.TextModelFile = defaultTextModelFile
	}
	if cfg.Embedding.VisionModelFile == "" {
		cfg.Embedding.VisionModelFile = defaultVisionModelFile
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 77
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 4096
	}
}
