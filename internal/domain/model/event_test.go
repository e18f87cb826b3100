package model_test

import (
	"testing"

	model "github.com/okian/spotted/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestAttachment(t *testing.T) {
	convey.Convey("Given attachments with mixed mime types", t, func() {
		atts := []model.Attachment{
			{FileID: "F1", MimeType: "image/png"},
			{FileID: "F2", MimeType: "application/pdf"},
			{FileID: "F3", MimeType: " IMAGE/JPEG "},
			{FileID: "F4", MimeType: ""},
			{FileID: "F5", MimeType: "video/mp4"},
		}

		convey.Convey("Then only image/* attachments are kept in order", func() {
			imgs := model.Images(atts)
			convey.So(imgs, convey.ShouldHaveLength, 2)
			convey.So(imgs[0].FileID, convey.ShouldEqual, "F1")
			convey.So(imgs[1].FileID, convey.ShouldEqual, "F3")
		})

		convey.Convey("Then an empty input yields no images", func() {
			convey.So(model.Images(nil), convey.ShouldBeEmpty)
		})
	})
}

func TestMessageKey(t *testing.T) {
	convey.Convey("Given a channel and message timestamp", t, func() {
		convey.Convey("Then the key joins them", func() {
			convey.So(model.MessageKey("C1", "1700000000.000100"), convey.ShouldEqual, "C1:1700000000.000100")
		})

		convey.Convey("Then different channels give different keys for the same ts", func() {
			convey.So(model.MessageKey("C1", "1.0"), convey.ShouldNotEqual, model.MessageKey("C2", "1.0"))
		})
	})
}
