package provision

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/monica-infra/deployer/internal/errdef"
)

// Classify maps errors returned by the cloud provider API onto errdef so they can be reported to
// the operator by kind. Errors not returned by the API or of an unknown kind are returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	code := apiErr.ErrorCode()
	switch {
	case strings.HasPrefix(code, "AccessDenied"), code == "UnauthorizedOperation", code == "AuthFailure":
		return errdef.NewForbidden("insufficient permissions: %w", err)
	case strings.Contains(code, "AlreadyExists"), code == "BucketAlreadyOwnedByYou", code == "BucketAlreadyExists", code == "EntityAlreadyExists":
		return errdef.NewDuplicated("naming collision: %w", err)
	case strings.HasPrefix(code, "LimitExceeded"), strings.HasSuffix(code, "QuotaExceeded"), strings.HasSuffix(code, "LimitExceeded"):
		return errdef.NewConflict("resource limit exhausted: %w", err)
	case strings.HasPrefix(code, "InvalidSubnet"), strings.HasPrefix(code, "InvalidVpc"), strings.HasPrefix(code, "InvalidGroup"), code == "InvalidParameterCombination":
		return errdef.NewBadRequest("network misconfiguration: %w", err)
	}
	return err
}

// IsNotFound returns true if the API reports the requested resource does not exist.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "NoSuchEntity" ||
		code == "NotFound" ||
		code == "NoSuchBucket" ||
		code == "ResourceNotFoundException" ||
		code == "DBClusterNotFoundFault" ||
		code == "DBSubnetGroupNotFoundFault" ||
		code == "ClusterNotFoundException" ||
		strings.HasSuffix(code, ".NotFound") ||
		strings.HasSuffix(code, ".NotFoundException")
}
