package provider

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/config"
)

// FromConfig builds a registry from every provider with credentials. A
// provider that fails to initialise is logged and left out.
func FromConfig(ctx context.Context, cfg *config.Config, system string, log logrus.FieldLogger) (*Registry, error) {
	var adapters []Adapter

	if cfg.Ark.Enabled() {
		ark, err := NewArkAdapterFromConfig(ctx, cfg.Ark, system, log)
		if err != nil {
			log.WithError(err).Warn("Ark 初始化失败，跳过该提供方")
		} else {
			adapters = append(adapters, ark)
		}
	} else {
		log.Info("Ark 凭证未配置，跳过流式提供方")
	}

	if cfg.OpenAI.Enabled() {
		oa, err := NewOpenAIAdapterFromConfig(cfg.OpenAI, system, log)
		if err != nil {
			log.WithError(err).Warn("OpenAI 初始化失败，跳过该提供方")
		} else {
			adapters = append(adapters, oa)
		}
	} else {
		log.Info("OPENAI_API_KEY 未配置，跳过一次性提供方")
	}

	if len(adapters) == 0 {
		return nil, ErrNoProvider
	}

	reg := NewRegistry(cfg.Chat.DefaultProvider, log, adapters...)
	log.WithFields(logrus.Fields{"providers": reg.Names(), "default": reg.Default()}).Info("providers ready")
	return reg, nil
}
