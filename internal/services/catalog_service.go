package services

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edunest/backend/internal/models"
)

// CatalogService serves the course and module listings the storefront pages
// render. Read-only; prices here are the single source the unlocker trusts.
type CatalogService struct {
	db *sql.DB
}

func NewCatalogService(db *sql.DB) *CatalogService {
	return &CatalogService{db: db}
}

// GetModule returns one module with its price
// @Summary Get module details
// @Tags catalog
// @Produce json
// @Param moduleId path string true "Module ID"
// @Success 200 {object} models.Module
// @Failure 404 {object} ErrorResponse
// @Router /module/{moduleId} [get]
func (s *CatalogService) GetModule(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleId")

	var m models.Module
	err := s.db.QueryRow(`
		SELECT id, course_id, title, price, position FROM modules
		WHERE id = $1`, moduleID).Scan(&m.ID, &m.CourseID, &m.Title, &m.Price, &m.Position)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Module not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch module", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// ListCourses returns the course catalog
// @Summary List courses
// @Tags catalog
// @Produce json
// @Success 200 {object} object{courses=[]models.Course,count=int}
// @Router /courses [get]
func (s *CatalogService) ListCourses(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.teacher_id, c.description, COUNT(m.id) AS module_count
		FROM courses c
		LEFT JOIN modules m ON m.course_id = c.id
		GROUP BY c.id, c.title, c.teacher_id, c.description
		ORDER BY c.title`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch courses", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	courses := []models.Course{}
	for rows.Next() {
		var c models.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.TeacherID, &c.Description, &c.ModuleCount); err != nil {
			SendErrorResponse(w, "Failed to fetch courses", http.StatusInternalServerError, nil)
			return
		}
		courses = append(courses, c)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"courses": courses,
		"count":   len(courses),
	})
}
