package skillcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSkillID(t *testing.T) {
	subject, grade, breadcrumb, ok := ParseSkillID("math_3_1.2.3.4")
	require.True(t, ok)
	require.Equal(t, "math", subject)
	require.Equal(t, "3", grade)
	require.Equal(t, "1.2.3.4", breadcrumb)
}

func TestParseSkillID_MissingSegmentsFails(t *testing.T) {
	_, _, _, ok := ParseSkillID("math_3")
	require.False(t, ok)
}

func TestParseBreadcrumb_FullySpecified(t *testing.T) {
	b := ParseBreadcrumb("math_3_1.2.3.4", 3)
	require.True(t, b.OK)
	require.Equal(t, "math", b.Subject)
	require.Equal(t, 3, b.Grade)
	require.Equal(t, "1", b.Topic)
	require.Equal(t, "2", b.Concept)
	require.Equal(t, "3", b.Subconcept)
	require.Equal(t, "4", b.Exercise)
}

func TestParseBreadcrumb_ShortBreadcrumbDisablesCascade(t *testing.T) {
	b := ParseBreadcrumb("math_3_1.2", 3)
	require.False(t, b.OK)
	require.Equal(t, "1", b.Topic)
	require.Equal(t, "2", b.Concept)
	require.Empty(t, b.Subconcept)
	require.Empty(t, b.Exercise)
}

func TestParseBreadcrumb_MalformedSkillIDReturnsZeroValue(t *testing.T) {
	b := ParseBreadcrumb("nosubjectnograde", 3)
	require.False(t, b.OK)
	require.Empty(t, b.Subject)
}
