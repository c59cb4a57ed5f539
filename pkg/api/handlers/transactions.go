package handlers

import (
	"net/http"

	"github.com/cnabflow/cnabflow/pkg/store"
)

// TransactionHandler handles transaction administration endpoints.
type TransactionHandler struct {
	store *store.Store
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(st *store.Store) *TransactionHandler {
	return &TransactionHandler{store: st}
}

// ClearResponse is the response body for DELETE /api/v1/transactions.
type ClearResponse struct {
	Deleted int64 `json:"deleted"`
}

// Clear handles DELETE /api/v1/transactions.
//
// Removes every stored transaction and reports how many rows were deleted.
// Upload tracking rows and line hashes are kept, so re-uploading a cleared
// file is still rejected as a duplicate.
func (h *TransactionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.ClearAllTransactions(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to clear transactions")
		return
	}

	WriteJSONOK(w, ClearResponse{Deleted: deleted})
}
