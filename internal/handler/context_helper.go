package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/middleware"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

func actorFromContext(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return actor, true
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func pathID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.Invalid("id", "id is required"))
		return "", false
	}
	return id, true
}

// writeError responds with err. Overlap conflicts also report the lesson
// already holding the interval.
func writeError(c *gin.Context, err error) {
	var conflict *models.LessonConflictError
	if errors.As(err, &conflict) && conflict.Conflict != nil {
		response.ErrorWithMeta(c, err, map[string]interface{}{
			"conflict": gin.H{
				"lesson_id": conflict.Conflict.ID,
				"start":     conflict.Conflict.Date,
				"end":       conflict.Conflict.End(),
				"status":    conflict.Conflict.Status,
			},
		})
		return
	}
	response.Error(c, err)
}
