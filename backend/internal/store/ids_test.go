package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIDSource_ClockStepBack(t *testing.T) {
	ids := newIDSource()
	now := time.Now()

	first, firstAt, err := ids.next(now)
	require.NoError(t, err)
	second, secondAt, err := ids.next(now.Add(-time.Minute))
	require.NoError(t, err)

	// id 和创建时间都不倒退，(created_at, id) 排序与创建顺序一致
	require.Greater(t, second, first)
	require.False(t, secondAt.Before(firstAt.Truncate(time.Millisecond)))
}
