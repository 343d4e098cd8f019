package collab

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collabEngine/backend/internal/entity"
)

func (e *engine) AutoSave(ctx context.Context) ([]entity.DocumentVersion, error) {
	var (
		mu    sync.Mutex
		saved []entity.DocumentVersion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.AutoSaveWorker)
	for _, s := range e.registry.Sessions() {
		s := s
		g.Go(func() error {
			v, err := e.saveDraft(gctx, s)
			if err != nil {
				// 单个文档失败不影响其他文档，下一轮再试
				e.log.Warn("autosave failed", zap.String("doc_id", s.DocumentID()), zap.Error(err))
				return nil
			}
			if v != nil {
				mu.Lock()
				saved = append(saved, *v)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return saved, err
	}
	return saved, ctx.Err()
}

// RunAutoSave 每隔 interval 保存一次草稿，直到 ctx 取消；onSaved 用于通知在线用户
func RunAutoSave(ctx context.Context, svc Service, interval time.Duration, log *zap.Logger, onSaved func(entity.DocumentVersion)) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			saved, err := svc.AutoSave(ctx)
			if err != nil && ctx.Err() == nil {
				log.Warn("autosave round failed", zap.Error(err))
			}
			if len(saved) > 0 {
				log.Info("autosave", zap.Int("drafts", len(saved)))
			}
			if onSaved != nil {
				for _, v := range saved {
					onSaved(v)
				}
			}
		}
	}
}
