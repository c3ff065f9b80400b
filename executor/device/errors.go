package device

import (
	"errors"
	"fmt"
)

// Code is a platform status code. Values match the OpenCL error codes so logs
// read the same whichever backend produced them.
type Code int32

const (
	CodeSuccess                    Code = 0
	CodeDeviceNotFound             Code = -1
	CodeDeviceNotAvailable         Code = -2
	CodeMemObjectAllocationFailure Code = -4
	CodeOutOfResources             Code = -5
	CodeOutOfHostMemory            Code = -6
	CodeBuildProgramFailure        Code = -11
	CodeInvalidValue               Code = -30
	CodeInvalidContext             Code = -34
	CodeInvalidCommandQueue        Code = -36
	CodeInvalidMemObject           Code = -38
	CodeInvalidProgram             Code = -44
	CodeInvalidKernelName          Code = -46
	CodeInvalidKernel              Code = -48
	CodeInvalidArgIndex            Code = -49
	CodeInvalidArgValue            Code = -50
	CodeInvalidKernelArgs          Code = -52
	CodeInvalidWorkDimension       Code = -53
)

var codeNames = map[Code]string{
	CodeSuccess:                    "CL_SUCCESS",
	CodeDeviceNotFound:             "CL_DEVICE_NOT_FOUND",
	CodeDeviceNotAvailable:         "CL_DEVICE_NOT_AVAILABLE",
	CodeMemObjectAllocationFailure: "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	CodeOutOfResources:             "CL_OUT_OF_RESOURCES",
	CodeOutOfHostMemory:            "CL_OUT_OF_HOST_MEMORY",
	CodeBuildProgramFailure:        "CL_BUILD_PROGRAM_FAILURE",
	CodeInvalidValue:               "CL_INVALID_VALUE",
	CodeInvalidContext:             "CL_INVALID_CONTEXT",
	CodeInvalidCommandQueue:        "CL_INVALID_COMMAND_QUEUE",
	CodeInvalidMemObject:           "CL_INVALID_MEM_OBJECT",
	CodeInvalidProgram:             "CL_INVALID_PROGRAM",
	CodeInvalidKernelName:          "CL_INVALID_KERNEL_NAME",
	CodeInvalidKernel:              "CL_INVALID_KERNEL",
	CodeInvalidArgIndex:            "CL_INVALID_ARG_INDEX",
	CodeInvalidArgValue:            "CL_INVALID_ARG_VALUE",
	CodeInvalidKernelArgs:          "CL_INVALID_KERNEL_ARGS",
	CodeInvalidWorkDimension:       "CL_INVALID_WORK_DIMENSION",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CL_ERROR(%d)", int32(c))
}

// Error is a failed platform call.
type Error struct {
	Op       string
	Code     Code
	BuildLog string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (%d)", e.Op, e.Code, int32(e.Code))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.BuildLog != "" {
		msg += "\nbuild log:\n" + e.BuildLog
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted cause.
func Errorf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches op to err. An *Error keeps its code and build log; anything
// else is reported as CodeOutOfResources.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return &Error{Op: op + ": " + de.Op, Code: de.Code, BuildLog: de.BuildLog, Err: de.Err}
	}
	return &Error{Op: op, Code: CodeOutOfResources, Err: err}
}

// CodeOf extracts the platform code from err, or CodeSuccess for nil.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeOutOfResources
}
