// Package alias はアーティスト名のエイリアス解決を提供する。
// 外部サービスの表記ゆれ名を正規名に正規化するインメモリルックアップを含む。
package alias

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/chartman/internal/repository"
)

// Resolver はエイリアスのインメモリルックアップテーブル。
// 大文字小文字を区別しない完全一致で解決し、マッピングが存在しない場合は入力をそのまま返す。
// テーブルのメンテナンスは外部のキュレーション処理が行うため、定期的にReloadで追従する。
type Resolver struct {
	repo   repository.AliasRepository
	logger *slog.Logger

	mu      sync.RWMutex
	mapping map[string]string // lower(raw_name) -> canonical_name
}

// NewResolver はResolverの新しいインスタンスを生成する。
// 初回のロードは行わないため、使用前にReloadを呼び出すこと。
func NewResolver(repo repository.AliasRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		repo:    repo,
		logger:  logger,
		mapping: make(map[string]string),
	}
}

// Resolve は外部サービスの生のアーティスト名を正規名に解決する。
// マッピングが存在しない場合は入力をそのまま返す。
func (r *Resolver) Resolve(rawName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if canonical, ok := r.mapping[strings.ToLower(rawName)]; ok {
		return canonical
	}
	return rawName
}

// Size は現在ロードされているエイリアス数を返す。テストおよびメトリクス用。
func (r *Resolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mapping)
}

// Reload はエイリアステーブルをストアから再読み込みする。
// 読み込みに失敗した場合は既存のテーブルを維持する。
func (r *Resolver) Reload(ctx context.Context) error {
	aliases, err := r.repo.ListAll(ctx)
	if err != nil {
		r.logger.Error("エイリアステーブルの再読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}

	mapping := make(map[string]string, len(aliases))
	for _, a := range aliases {
		mapping[strings.ToLower(a.RawName)] = a.CanonicalName
	}

	r.mu.Lock()
	r.mapping = mapping
	r.mu.Unlock()

	r.logger.Info("エイリアステーブルを再読み込みしました",
		slog.Int("alias_count", len(mapping)),
	)

	return nil
}

// StartReloadLoop はティッカーでエイリアステーブルを定期的に再読み込みする。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Resolver) StartReloadLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// エラー時は既存テーブルのまま次回に再試行する
			_ = r.Reload(ctx)
		}
	}
}
