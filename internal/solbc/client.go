// internal/solbc/client.go
package solbc

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client — тонкий адаптер для взаимодействия с блокчейном Solana через solana-go.
// Все вызовы проходят через rate limiter, временные ошибки повторяются с
// экспоненциальным backoff в пределах настроенного числа попыток.
type Client struct {
	rpc     *rpc.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	retries int
	timeout time.Duration
}

// NewClient создаёт новый клиент, принимая RPC URL и логгер через dependency injection.
func NewClient(rpcURL string, retries int, timeout time.Duration, logger *zap.Logger) *Client {
	if retries <= 0 {
		retries = 3
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		rpc:     rpc.New(rpcURL),
		logger:  logger.Named("solbc-client"),
		limiter: rate.NewLimiter(rate.Limit(50), 100),
		retries: retries,
		timeout: timeout,
	}
}

// withRetry выполняет операцию с повтором только для временных ошибок.
func withRetry[T any](ctx context.Context, c *Client, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second

	notify := func(err error, d time.Duration) {
		c.logger.Debug("Retrying RPC call",
			zap.String("method", name),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	operation := func() (T, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		result, err := op(callCtx)
		if err != nil && !IsTransient(err) {
			return zero, backoff.Permanent(err)
		}
		return result, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.retries)),
		backoff.WithNotify(notify))
	if err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

// GetAccountInfo получает информацию об аккаунте.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return withRetry(ctx, c, "getAccountInfo", func(ctx context.Context) (*rpc.GetAccountInfoResult, error) {
		result, err := c.rpc.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
		})
		if err != nil {
			return nil, err
		}
		if result.Value == nil {
			return nil, ErrAccountNotFound
		}
		return result, nil
	})
}

// GetMultipleAccounts получает информацию о нескольких аккаунтах за один запрос.
func (c *Client) GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	if len(pubkeys) == 0 {
		return &rpc.GetMultipleAccountsResult{}, nil
	}
	return withRetry(ctx, c, "getMultipleAccounts", func(ctx context.Context) (*rpc.GetMultipleAccountsResult, error) {
		return c.rpc.GetMultipleAccountsWithOpts(ctx, pubkeys, &rpc.GetMultipleAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
		})
	})
}

// GetTokenAccountBalance читает баланс токен-аккаунта (vault пула) в базовых единицах.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return withRetry(ctx, c, "getTokenAccountBalance", func(ctx context.Context) (uint64, error) {
		result, err := c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, err
		}
		if result.Value == nil {
			return 0, ErrAccountNotFound
		}
		var amount uint64
		if _, err := fmt.Sscan(result.Value.Amount, &amount); err != nil {
			return 0, fmt.Errorf("parse token amount %q: %w", result.Value.Amount, err)
		}
		return amount, nil
	})
}

// GetBalance возвращает лампорт-баланс обычного аккаунта.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	return withRetry(ctx, c, "getBalance", func(ctx context.Context) (uint64, error) {
		result, err := c.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, err
		}
		return result.Value, nil
	})
}

// GetLatestBlockhash получает последний blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return withRetry(ctx, c, "getLatestBlockhash", func(ctx context.Context) (solana.Hash, error) {
		result, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return solana.Hash{}, err
		}
		return result.Value.Blockhash, nil
	})
}

// SimulateTransaction выполняет dry-run транзакции против текущего состояния сети.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error) {
	return withRetry(ctx, c, "simulateTransaction", func(ctx context.Context) (*rpc.SimulateTransactionResponse, error) {
		return c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
			Commitment:             rpc.CommitmentConfirmed,
			ReplaceRecentBlockhash: true,
		})
	})
}

// SendTransaction отправляет транзакцию. Отправка не повторяется автоматически:
// повтор после неизвестного исхода может привести к двойному исполнению.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sig, err := c.rpc.SendTransactionWithOpts(callCtx, tx, rpc.TransactionOpts{
		SkipPreflight: true,
	})
	if err != nil {
		c.logger.Error("SendTransaction error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

// GetSignatureStatus возвращает статус подтверждения транзакции.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	return withRetry(ctx, c, "getSignatureStatuses", func(ctx context.Context) (*rpc.SignatureStatusesResult, error) {
		result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return nil, err
		}
		if len(result.Value) == 0 || result.Value[0] == nil {
			return nil, ErrAccountNotFound
		}
		return result.Value[0], nil
	})
}

// GetAccountDataInto получает данные аккаунта и декодирует их в указанную структуру.
func (c *Client) GetAccountDataInto(ctx context.Context, pubkey solana.PublicKey, dst interface{}) error {
	_, err := withRetry(ctx, c, "getAccountDataInto", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.rpc.GetAccountDataInto(ctx, pubkey, dst)
	})
	return err
}
