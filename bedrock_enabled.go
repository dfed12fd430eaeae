//go:build bedrock

package llmrelay

import (
	"log/slog"

	"llmrelay/config"
	"llmrelay/domain"
	"llmrelay/provider/bedrock"
)

func init() {
	bedrockFactory = func(cfg config.ProviderConfig, logger *slog.Logger) (domain.StreamingProvider, error) {
		return bedrock.New(cfg, logger)
	}
}
