package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	loggerpkg "ProcessMCP/pkg/logger"
)

type credential struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 根据配置的 API 令牌识别调用方。
type Service struct {
	credentials []credential
	audit       *slog.Logger
}

// NewService 校验并加载令牌配置。未配置令牌时返回的服务不做认证。
func NewService(cfg Config) (*Service, error) {
	s := &Service{audit: loggerpkg.Audit()}
	seen := make(map[[sha256.Size]byte]string, len(cfg.Tokens))
	for i, tok := range cfg.Tokens {
		name := strings.TrimSpace(tok.Name)
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		digest, err := tokenDigest(tok)
		if err != nil {
			return nil, fmt.Errorf("令牌 %s 配置无效: %w", name, err)
		}
		if other, dup := seen[digest]; dup {
			return nil, fmt.Errorf("令牌 %s 与 %s 重复", name, other)
		}
		seen[digest] = name
		subject := &Subject{
			Name:        name,
			Permissions: append([]string(nil), tok.Permissions...),
			Disabled:    tok.Disabled,
		}
		subject.normalise()
		s.credentials = append(s.credentials, credential{digest: digest, subject: subject})
	}
	return s, nil
}

func tokenDigest(tok Token) ([sha256.Size]byte, error) {
	var digest [sha256.Size]byte
	if raw := strings.TrimSpace(tok.TokenSHA256); raw != "" {
		decoded, err := hex.DecodeString(raw)
		if err != nil || len(decoded) != sha256.Size {
			return digest, fmt.Errorf("token_sha256 必须为 %d 字节的十六进制串", sha256.Size)
		}
		copy(digest[:], decoded)
		return digest, nil
	}
	if tok.Token == "" {
		return digest, ErrMissingToken
	}
	return sha256.Sum256([]byte(tok.Token)), nil
}

// Enabled 判断是否需要认证。
func (s *Service) Enabled() bool {
	return s != nil && len(s.credentials) > 0
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var found *Subject
	for _, c := range s.credentials {
		if subtle.ConstantTimeCompare(digest[:], c.digest[:]) == 1 {
			found = c.subject
		}
	}
	if found == nil {
		return nil, ErrInvalidToken
	}
	if found.Disabled {
		return nil, ErrSubjectRevoked
	}
	return found, nil
}
