package api

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestErrorHelpers(t *testing.T) {
	Convey("Wrapped errors keep both kind and cause", t, func() {
		cause := errors.New("boom")
		err := WrapKind("api.op", ErrBadRequest, cause)
		So(errors.Is(err, ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.op: bad request: boom")

		So(errors.Is(NewKind("api.op", ErrNotFound), ErrNotFound), ShouldBeTrue)
		So(Wrap("api.op", nil), ShouldBeNil)
		So(errors.Is(WrapKind("api.op", ErrUnauthorized, nil), ErrUnauthorized), ShouldBeTrue)
	})
}
