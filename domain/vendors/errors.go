package vendors

import "github.com/engagic/engagic/pkg/apperror"

var errNegativeSequence = apperror.ErrVendorParsing.WithMessage("agenda item has a negative sequence")

func errMissing(field string) error {
	return apperror.ErrVendorParsing.WithMessagef("record is missing %s", field)
}
