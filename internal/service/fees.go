package service

import (
	"context"
	"fmt"
	"slices"

	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"

	"gorm.io/gorm"
)

type FeeFilter struct {
	Status   model.FeeStatus
	From, To string
	Limit    int
	Offset   int
}

// StatusScope filters fees by their status as seen today. Overdue is not a
// stored value, so it and the two statuses it shadows are rewritten into
// due date predicates.
func StatusScope(status model.FeeStatus, today string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		switch status {
		case "":
			return q
		case model.FeeOverdue:
			return q.Where("status IN ? AND due_date < ?", []model.FeeStatus{model.FeePending, model.FeePartial}, today)
		case model.FeePending, model.FeePartial:
			return q.Where("status = ? AND due_date >= ?", status, today)
		default:
			return q.Where("status = ?", status)
		}
	}
}

// StudentFees lists the fees of one student ordered by due date
func (l *FeeLedger) StudentFees(ctx context.Context, studentID string, f FeeFilter) ([]model.StudentFee, int64, error) {
	now := l.now()

	q := l.db.WithContext(ctx).
		Model(&model.StudentFee{}).
		Where("student_id = ?", studentID).
		Scopes(StatusScope(f.Status, model.Today(now)))

	if f.From != "" {
		q = q.Where("due_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("due_date <= ?", f.To)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Internal(err)
	}

	var fees []model.StudentFee
	err := q.
		Preload("FeeStructure").
		Order("due_date ASC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&fees).Error
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}

	for i := range fees {
		fees[i].Resolve(now)
	}

	return fees, total, nil
}

type AssignRequest struct {
	StructureID string
	DueDate     string
	StudentIDs  []string
	Grade       string
	Section     string
}

type AssignResult struct {
	Created []model.StudentFee `json:"created"`
	Skipped []string           `json:"skipped"`
}

// Assign creates an obligation from a fee structure for every selected
// student that doesn't already owe it for the same due date
func (l *FeeLedger) Assign(ctx context.Context, r AssignRequest) (*AssignResult, error) {
	var structure model.FeeStructure
	if err := l.db.WithContext(ctx).First(&structure, "id = ?", r.StructureID).Error; err != nil {
		return nil, apperr.From(err)
	}

	res := &AssignResult{Created: []model.StudentFee{}, Skipped: []string{}}

	requested := slices.Compact(slices.Sorted(slices.Values(r.StudentIDs)))

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.Student{})
		switch {
		case len(requested) > 0:
			q = q.Where("id IN ?", requested)
		case r.Grade != "":
			q = q.Where("grade = ?", r.Grade)
			if r.Section != "" {
				q = q.Where("section = ?", r.Section)
			}
		default:
			return apperr.BadRequest("Provide studentIds or a grade to assign the fee to")
		}

		var ids []string
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}

		if len(requested) > 0 && len(ids) != len(requested) {
			return apperr.NotFound("One or more students not found")
		}

		var existing []string
		err := tx.Model(&model.StudentFee{}).
			Where("fee_structure_id = ? AND due_date = ? AND student_id IN ?", structure.ID, r.DueDate, ids).
			Pluck("student_id", &existing).Error
		if err != nil {
			return err
		}

		owes := make(map[string]bool, len(existing))
		for _, id := range existing {
			owes[id] = true
		}

		for _, id := range ids {
			if owes[id] {
				res.Skipped = append(res.Skipped, id)
				continue
			}

			res.Created = append(res.Created, model.StudentFee{
				StudentID:      id,
				FeeStructureID: structure.ID,
				Amount:         structure.Amount,
				DueDate:        r.DueDate,
				Status:         model.FeePending,
				Version:        1,
			})
		}

		if len(res.Created) == 0 {
			return nil
		}

		if err := tx.Create(&res.Created).Error; err != nil {
			return fmt.Errorf("failed to create fee obligations, %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	now := l.now()
	for i := range res.Created {
		res.Created[i].Resolve(now)
	}

	return res, nil
}
