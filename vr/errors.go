package vr

import "fmt"

// InputError is the result code of the action based input calls.
type InputError int

const (
	InputErrorNone InputError = iota
	InputErrorNameNotFound
	InputErrorWrongType
	InputErrorInvalidHandle
	InputErrorInvalidParam
	InputErrorNoSteam
	InputErrorMaxCapacityReached
	InputErrorIPCError
	InputErrorNoActiveActionSet
	InputErrorInvalidDevice
	InputErrorInvalidSkeleton
	InputErrorInvalidBoneCount
	InputErrorInvalidCompressedData
	InputErrorNoData
	InputErrorBufferTooSmall
	InputErrorMismatchedActionManifest
	InputErrorMissingSkeletonData
	InputErrorInvalidBoneIndex
)

var inputErrorNames = map[InputError]string{
	InputErrorNone:                     "None",
	InputErrorNameNotFound:             "NameNotFound",
	InputErrorWrongType:                "WrongType",
	InputErrorInvalidHandle:            "InvalidHandle",
	InputErrorInvalidParam:             "InvalidParam",
	InputErrorNoSteam:                  "NoSteam",
	InputErrorMaxCapacityReached:       "MaxCapacityReached",
	InputErrorIPCError:                 "IPCError",
	InputErrorNoActiveActionSet:        "NoActiveActionSet",
	InputErrorInvalidDevice:            "InvalidDevice",
	InputErrorInvalidSkeleton:          "InvalidSkeleton",
	InputErrorInvalidBoneCount:         "InvalidBoneCount",
	InputErrorInvalidCompressedData:    "InvalidCompressedData",
	InputErrorNoData:                   "NoData",
	InputErrorBufferTooSmall:           "BufferTooSmall",
	InputErrorMismatchedActionManifest: "MismatchedActionManifest",
	InputErrorMissingSkeletonData:      "MissingSkeletonData",
	InputErrorInvalidBoneIndex:         "InvalidBoneIndex",
}

func (e InputError) String() string {
	if name, ok := inputErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("InputError(%d)", int(e))
}

// InitErrorCode is the runtime's init failure code.
type InitErrorCode int

const (
	InitErrorNone                     InitErrorCode = 0
	InitErrorUnknown                  InitErrorCode = 1
	InitErrorInstallationNotFound     InitErrorCode = 100
	InitErrorInitInternal             InitErrorCode = 105
	InitErrorHmdNotFound              InitErrorCode = 108
	InitErrorNoServerForBackgroundApp InitErrorCode = 121
	InitErrorInvalidConfig            InitErrorCode = 137
	InitErrorIPCServerInitFailed      InitErrorCode = 300
	InitErrorIPCConnectFailed         InitErrorCode = 301
)

var initErrorDescriptions = map[InitErrorCode]string{
	InitErrorNone:                     "No Error (0)",
	InitErrorUnknown:                  "Unknown Error (1)",
	InitErrorInstallationNotFound:     "Installation Not Found (100)",
	InitErrorInitInternal:             "Internal runtime error (105)",
	InitErrorHmdNotFound:              "Hmd Not Found (108)",
	InitErrorNoServerForBackgroundApp: "Not starting vrserver for background app (121)",
	InitErrorInvalidConfig:            "Invalid runtime configuration (137)",
	InitErrorIPCServerInitFailed:      "VR Server Init Failed (300)",
	InitErrorIPCConnectFailed:         "Connect to VR Server Failed (301)",
}

// InitError reports a failed runtime initialization. Error returns the
// runtime's own description so it can be shown to the operator unchanged.
type InitError struct {
	Code  InitErrorCode
	Cause error
}

// NewInitError wraps cause with the given init code.
func NewInitError(code InitErrorCode, cause error) *InitError {
	return &InitError{Code: code, Cause: cause}
}

func (e *InitError) Error() string {
	desc, ok := initErrorDescriptions[e.Code]
	if !ok {
		desc = fmt.Sprintf("Unknown error (%d)", int(e.Code))
	}
	if e.Cause != nil {
		return desc + ": " + e.Cause.Error()
	}
	return desc
}

func (e *InitError) Unwrap() error {
	return e.Cause
}
