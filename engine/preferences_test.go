package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inboxflow/store"
	"github.com/BaSui01/inboxflow/types"
)

// conflictingPrefStore 前 n 次 CAS 返回修订冲突的包装
type conflictingPrefStore struct {
	store.PreferenceStore
	conflicts int
	casCalls  int
}

func (s *conflictingPrefStore) CompareAndSwap(ctx context.Context, ns types.Namespace, policy string, rev int64) (*types.PreferenceProfile, error) {
	s.casCalls++
	if s.casCalls <= s.conflicts {
		// 模拟并发写入者抢先提交
		latest, err := s.PreferenceStore.Get(ctx, ns, "")
		if err == nil {
			_, _ = s.PreferenceStore.CompareAndSwap(ctx, ns, latest.Policy+" (raced)", latest.Revision)
		}
		return nil, store.ErrRevisionConflict
	}
	return s.PreferenceStore.CompareAndSwap(ctx, ns, policy, rev)
}

func TestLearnerAppliesOnCleanCommit(t *testing.T) {
	ctx := context.Background()
	prefs := store.NewMemoryPreferenceStore()
	o := &fakeOracle{triage: classify(types.ClassificationIgnore)}
	l := newPreferenceLearner(prefs, o, nil, nil)

	l.Update(ctx, types.NamespaceResponse, types.NewUserMessage("be brief"))

	profile, err := prefs.Get(ctx, types.NamespaceResponse, "unused")
	require.NoError(t, err)
	assert.Equal(t, int64(2), profile.Revision)
	assert.Contains(t, profile.Policy, "- learned")
}

func TestLearnerRetriesOnceAgainstLatestRevision(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryPreferenceStore()
	_, err := inner.Get(ctx, types.NamespaceResponse, "base policy")
	require.NoError(t, err)
	prefs := &conflictingPrefStore{PreferenceStore: inner, conflicts: 1}

	o := &fakeOracle{triage: classify(types.ClassificationIgnore)}
	l := newPreferenceLearner(prefs, o, nil, nil)
	l.Update(ctx, types.NamespaceResponse, types.NewUserMessage("be brief"))

	// 第一次 CAS 输给并发写入者，第二次对最新修订成功
	assert.Equal(t, 2, prefs.casCalls)
	profile, err := inner.Get(ctx, types.NamespaceResponse, "unused")
	require.NoError(t, err)
	assert.Equal(t, int64(3), profile.Revision)
	assert.Contains(t, profile.Policy, "(raced)")
	assert.Contains(t, profile.Policy, "- learned")
}

func TestLearnerDropsAfterSecondConflict(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryPreferenceStore()
	_, err := inner.Get(ctx, types.NamespaceResponse, "base policy")
	require.NoError(t, err)
	prefs := &conflictingPrefStore{PreferenceStore: inner, conflicts: 2}

	o := &fakeOracle{triage: classify(types.ClassificationIgnore)}
	l := newPreferenceLearner(prefs, o, nil, nil)
	l.Update(ctx, types.NamespaceResponse, types.NewUserMessage("be brief"))

	// 重试恰好一次，再冲突就放弃
	assert.Equal(t, 2, prefs.casCalls)
	profile, err := inner.Get(ctx, types.NamespaceResponse, "unused")
	require.NoError(t, err)
	assert.NotContains(t, profile.Policy, "- learned")
}
