package webhook

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/didport/didport/internal/config"
	"github.com/didport/didport/internal/payment/adapters"
	paymentdomain "github.com/didport/didport/internal/payment/domain"
	paymentservice "github.com/didport/didport/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Reconciler *paymentservice.Service
	Adapters   *adapters.Registry
	Cfg        config.Config
}

// Service is the webhook front door: it resolves the gateway config, checks
// the signature, and hands the parsed event to the reconciler.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	reconciler *paymentservice.Service
	adapters   *adapters.Registry
	encKey     []byte
}

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type gatewayConfigRow struct {
	Config datatypes.JSON
}

func NewService(p Params) paymentdomain.Service {
	secret := strings.TrimSpace(p.Cfg.WebhookConfigSecret)
	var key []byte
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		reconciler: p.Reconciler,
		adapters:   p.Adapters,
		encKey:     key,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	configs, err := s.listActiveConfigs(ctx, provider)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return paymentdomain.ErrProviderNotFound
	}

	event, err := s.matchAdapter(ctx, provider, payload, headers, configs)
	if err != nil {
		return err
	}

	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	return s.reconciler.ProcessEvent(ctx, event)
}

func (s *Service) listActiveConfigs(ctx context.Context, provider string) ([]gatewayConfigRow, error) {
	var rows []gatewayConfigRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT config
		 FROM payment_gateway_configs
		 WHERE provider = ? AND is_active = TRUE`,
		provider,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// matchAdapter tries each active config until one verifies the signature.
// Multiple configs exist during secret rotation.
func (s *Service) matchAdapter(ctx context.Context, provider string, payload []byte, headers http.Header, configs []gatewayConfigRow) (*paymentdomain.PaymentEvent, error) {
	var configErr error
	for _, cfg := range configs {
		decrypted, err := s.decryptConfig(cfg.Config)
		if err != nil {
			if errors.Is(err, paymentdomain.ErrEncryptionKeyMissing) {
				return nil, err
			}
			configErr = err
			continue
		}

		adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
			Provider: provider,
			Config:   decrypted,
		})
		if err != nil {
			configErr = err
			continue
		}

		if err := adapter.Verify(ctx, payload, headers); err != nil {
			if errors.Is(err, paymentdomain.ErrInvalidSignature) {
				continue
			}
			return nil, err
		}

		return adapter.Parse(ctx, payload)
	}

	if configErr != nil {
		return nil, configErr
	}
	return nil, paymentdomain.ErrInvalidSignature
}

func (s *Service) decryptConfig(encrypted datatypes.JSON) (map[string]any, error) {
	if len(s.encKey) == 0 {
		return nil, paymentdomain.ErrEncryptionKeyMissing
	}
	if len(encrypted) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}

	var payload encryptedPayload
	if err := json.Unmarshal(encrypted, &payload); err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if payload.Version != 1 {
		return nil, paymentdomain.ErrInvalidConfig
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}

	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if len(out) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return out, nil
}
