package media

import (
	"fmt"

	"github.com/google/uuid"
)

var faceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:faceingest:face"))

// FaceID derives a stable identifier for a face from the photo's original path and
// its box. Re-detecting the same face in the same photo yields the same id.
func FaceID(originalPath string, box BoundingBox) string {
	key := fmt.Sprintf("%s|%d,%d,%d,%d", originalPath, box.Left, box.Top, box.Right, box.Bottom)
	return uuid.NewSHA1(faceNamespace, []byte(key)).String()
}
