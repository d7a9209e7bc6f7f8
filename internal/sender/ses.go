package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"flowmail/backend/internal/config"
)

// SESAPI SES v2 客户端中用到的方法
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	ListEmailIdentities(ctx context.Context, in *sesv2.ListEmailIdentitiesInput, optFns ...func(*sesv2.Options)) (*sesv2.ListEmailIdentitiesOutput, error)
}

// SES 通过 AWS SES v2 发信。凭据来自配置或默认凭据链，不使用 API key。
type SES struct {
	client SESAPI
	log    *zap.Logger
}

// NewSES 创建 SES 适配器
func NewSES(ctx context.Context, cfg config.SenderConfig, log *zap.Logger) (*SES, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESWithClient(sesv2.NewFromConfig(awsCfg), log), nil
}

// NewSESWithClient 使用已有客户端创建适配器
func NewSESWithClient(client SESAPI, log *zap.Logger) *SES {
	if log == nil {
		log = zap.NewNop()
	}
	return &SES{client: client, log: log}
}

func (s *SES) Name() string      { return "ses" }
func (s *SES) RequiresKey() bool { return false }

// Send 以原始 MIME 方式发送，保留自定义的会话头部
func (s *SES) Send(ctx context.Context, _ string, msg *Message) (string, error) {
	raw, err := buildMIME(msg)
	if err != nil {
		return "", err
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.FromHeader()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return "", s.providerError(err)
	}
	return aws.ToString(out.MessageId), nil
}

// ListDomains 返回 SES 中登记的域名身份
func (s *SES) ListDomains(ctx context.Context, _ string) ([]ProviderDomain, error) {
	domains := []ProviderDomain{}
	var token *string
	for {
		out, err := s.client.ListEmailIdentities(ctx, &sesv2.ListEmailIdentitiesInput{NextToken: token})
		if err != nil {
			return nil, s.providerError(err)
		}
		for _, id := range out.EmailIdentities {
			if id.IdentityType != types.IdentityTypeDomain {
				continue
			}
			domains = append(domains, ProviderDomain{
				Name:   aws.ToString(id.IdentityName),
				Status: string(id.VerificationStatus),
			})
		}
		if out.NextToken == nil {
			return domains, nil
		}
		token = out.NextToken
	}
}

func (s *SES) providerError(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		s.log.Warn("ses request failed", zap.Int("status", re.HTTPStatusCode()), zap.Error(err))
		return &ProviderError{Provider: s.Name(), StatusCode: re.HTTPStatusCode(), Message: re.Err.Error()}
	}
	return fmt.Errorf("ses request: %w", err)
}
