// Package gateway manages payment gateway configurations. Secrets are stored
// AES-GCM encrypted under a key derived from the webhook config secret.
package gateway

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/clock"
	"github.com/didport/didport/internal/config"
	paymentdomain "github.com/didport/didport/internal/payment/domain"
	"github.com/didport/didport/pkg/db/option"
	"github.com/didport/didport/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	encKey []byte

	configRepo repository.Repository[paymentdomain.GatewayConfig]
}

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func NewService(p Params) *Service {
	secret := strings.TrimSpace(p.Cfg.WebhookConfigSecret)
	var key []byte
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	return &Service{
		db:     p.DB,
		log:    p.Log.Named("payment.gateway"),
		genID:  p.GenID,
		clock:  p.Clock,
		encKey: key,

		configRepo: repository.ProvideStore[paymentdomain.GatewayConfig](p.DB),
	}
}

// Upsert stores an encrypted config for the provider. The most recent prior
// config stays active alongside the new one, so deliveries signed with the
// previous secret keep verifying for one rotation generation; anything older
// is deactivated.
func (s *Service) Upsert(ctx context.Context, provider string, cfg map[string]any) (*paymentdomain.GatewayConfig, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if len(cfg) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}

	encrypted, err := s.encryptConfig(cfg)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	row := &paymentdomain.GatewayConfig{
		ID:        s.genID.Generate(),
		Provider:  provider,
		Config:    encrypted,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The derived table keeps mysql happy about updating a table it is
		// also selecting from.
		if err := tx.Exec(
			`UPDATE payment_gateway_configs
			 SET is_active = FALSE, updated_at = ?
			 WHERE provider = ? AND is_active = TRUE
			   AND id NOT IN (
			     SELECT id FROM (
			       SELECT id FROM payment_gateway_configs
			       WHERE provider = ? AND is_active = TRUE
			       ORDER BY created_at DESC, id DESC
			       LIMIT 1
			     ) AS latest
			   )`,
			now, provider, provider,
		).Error; err != nil {
			return err
		}
		return s.configRepo.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) Deactivate(ctx context.Context, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	return s.db.WithContext(ctx).Exec(
		`UPDATE payment_gateway_configs SET is_active = FALSE, updated_at = ? WHERE provider = ?`,
		s.clock.Now(), provider,
	).Error
}

// List returns config rows without decrypting them.
func (s *Service) List(ctx context.Context) ([]*paymentdomain.GatewayConfig, error) {
	return s.configRepo.Find(ctx, &paymentdomain.GatewayConfig{}, option.WithOrder("provider ASC, created_at DESC"))
}

func (s *Service) encryptConfig(cfg map[string]any) (datatypes.JSON, error) {
	if len(s.encKey) == 0 {
		return nil, paymentdomain.ErrEncryptionKeyMissing
	}

	payload, err := json.Marshal(cfg)
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

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)
	encoded := encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}
