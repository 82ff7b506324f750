package ecode

import (
	"fmt"
)

const (
	emptyMsg      = "empty"
	requiredMsg   = "required"
	invalidMsg    = "invalid"
	failedMsg     = "failed"
	existMsg      = "already exists"
	notExistMsg   = "does not exist"
	outOfRangeMsg = "out of range"
	tooLongMsg    = "too long"
)

func withKey(msg string, k []string) string {
	if len(k) > 0 && k[0] != "" {
		return fmt.Sprintf("%s %s", k[0], msg)
	}
	return msg
}

// FieldIsEmpty returns field empty message
func FieldIsEmpty(k ...string) string {
	return withKey(emptyMsg, k)
}

// FieldIsRequired returns field required message
func FieldIsRequired(k ...string) string {
	return withKey(requiredMsg, k)
}

// FieldIsInvalid returns field invalid message
func FieldIsInvalid(k ...string) string {
	return withKey(invalidMsg, k)
}

// FieldOutOfRange returns field out of range message
func FieldOutOfRange(k ...string) string {
	return withKey(outOfRangeMsg, k)
}

// FieldTooLong returns field too long message
func FieldTooLong(k ...string) string {
	return withKey(tooLongMsg, k)
}

// Failed returns failed message
func Failed(k ...string) string {
	return withKey(failedMsg, k)
}

// AlreadyExist returns already exist message
func AlreadyExist(k ...string) string {
	return withKey(existMsg, k)
}

// NotExist returns not exist message
func NotExist(k ...string) string {
	return withKey(notExistMsg, k)
}
