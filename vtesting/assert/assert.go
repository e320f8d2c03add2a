// Package assert forwards to testify so tests and Retry() callbacks
// can share the same helpers.
package assert

import (
	"github.com/stretchr/testify/assert"
)

type TestingT = assert.TestingT

func NoError(t TestingT, err error, msgAndArgs ...interface{}) bool {
	return assert.NoError(t, err, msgAndArgs...)
}

func Error(t TestingT, err error, msgAndArgs ...interface{}) bool {
	return assert.Error(t, err, msgAndArgs...)
}

func ErrorAs(t TestingT, err error, target interface{}, msgAndArgs ...interface{}) bool {
	return assert.ErrorAs(t, err, target, msgAndArgs...)
}

func ErrorIs(t TestingT, err, target error, msgAndArgs ...interface{}) bool {
	return assert.ErrorIs(t, err, target, msgAndArgs...)
}

func Equal(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) bool {
	return assert.Equal(t, expected, actual, msgAndArgs...)
}

func NotEqual(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) bool {
	return assert.NotEqual(t, expected, actual, msgAndArgs...)
}

func True(t TestingT, value bool, msgAndArgs ...interface{}) bool {
	return assert.True(t, value, msgAndArgs...)
}

func False(t TestingT, value bool, msgAndArgs ...interface{}) bool {
	return assert.False(t, value, msgAndArgs...)
}

func Nil(t TestingT, object interface{}, msgAndArgs ...interface{}) bool {
	return assert.Nil(t, object, msgAndArgs...)
}

func NotNil(t TestingT, object interface{}, msgAndArgs ...interface{}) bool {
	return assert.NotNil(t, object, msgAndArgs...)
}

func Len(t TestingT, object interface{}, length int, msgAndArgs ...interface{}) bool {
	return assert.Len(t, object, length, msgAndArgs...)
}

func Contains(t TestingT, s, contains interface{}, msgAndArgs ...interface{}) bool {
	return assert.Contains(t, s, contains, msgAndArgs...)
}

func Empty(t TestingT, object interface{}, msgAndArgs ...interface{}) bool {
	return assert.Empty(t, object, msgAndArgs...)
}
