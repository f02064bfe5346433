package content

import (
	"context"

	"go.uber.org/zap"
)

// Library tries Primary and falls back to the static table on any error. It never fails.
type Library struct {
	Primary  Source
	Fallback Static
	Log      *zap.Logger
}

func NewLibrary(primary Source, log *zap.Logger) Library {
	if log == nil {
		log = zap.NewNop()
	}
	return Library{Primary: primary, Log: log.Named("content")}
}

func (l Library) LookupByTag(ctx context.Context, mood Mood) (Verse, error) {
	if l.Primary != nil {
		v, err := l.Primary.LookupByTag(ctx, mood)
		if err == nil {
			return v, nil
		}
		l.logFallback("by_tag", err, zap.String("mood", mood.String()))
	}
	return l.Fallback.LookupByTag(ctx, mood)
}

func (l Library) LookupRandom(ctx context.Context) (Verse, error) {
	if l.Primary != nil {
		v, err := l.Primary.LookupRandom(ctx)
		if err == nil {
			return v, nil
		}
		l.logFallback("random", err)
	}
	return l.Fallback.LookupRandom(ctx)
}

func (l Library) logFallback(op string, err error, fields ...zap.Field) {
	if l.Log == nil {
		return
	}
	fields = append(fields, zap.String("op", op), zap.Error(err))
	l.Log.Warn("content.fallback", fields...)
}
