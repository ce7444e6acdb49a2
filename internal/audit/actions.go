package audit

// Теги действий. Значения исторические и попадают в audit_log как есть,
// по ним фильтрует просмотрщик, поэтому не переименовывать.
const (
	ActionVerifyManualAttempt = "eVERIFY_AUTHENTICATION_VIA_PERSONAL DETAILS_ATTEMPT"
	ActionVerifyQRAttempt     = "eVERIFY_AUTHENTICATION_VIA_QR_ATTEMPT"
	ActionVerifySuccess       = "eVERIFY_SUCCESS"
	ActionVerifyFailed        = "eVERIFY_FAILED"
	ActionVerifyError         = "eVERIFY_ERROR"
	ActionNotYetVerified      = "USER NOT YET VERIFIED"
	ActionDBError             = "DB_ERROR"

	ActionLivenessInitiated = "FACE_LIVENESS_CHECK_INITIATED"
	ActionLivenessSuccess   = "FACE_LIVENESS_CHECK_SUCCESS"
	ActionLivenessTimeout   = "FACE_LIVENESS_CHECK_TIMEOUT"

	ActionQRScanInitiated   = "QR_SCAN_INITIATED"
	ActionQRValidationOK    = "QR_VALIDATION_SUCCESS"
	ActionQRValidationFail  = "QR_VALIDATION_FAILED"
	ActionQRValidationError = "QR_VALIDATION_ERROR"
	ActionInvalidQR         = "INVALID_QR"
	ActionInvalidInput      = "INVALID_INPUT"

	ActionWindowClosed = "WINDOW_CLOSED"

	ActionAuditLogsLoaded   = "AUDIT_LOGS_LOADED"
	ActionActionTypesLoaded = "ACTION_TYPES_LOADED"

	ActionUserAdded        = "USER_ADDED"
	ActionUserCreateFailed = "USER_CREATE_FAILED"
	ActionUserDeleted      = "USER_DELETED"
	ActionUserDeleteFailed = "USER_DELETE_FAILED"
	ActionUsersLoaded      = "USERS_LOADED"
	ActionLoginSuccess     = "LOGIN_SUCCESS"
	ActionLoginFailed      = "LOGIN_FAILED"
	ActionDatabaseError    = "DATABASE_ERROR"

	ActionReleaseValidationFailed = "RELEASE_VALIDATION_FAILED"
	ActionReleaseInitiated        = "DOCUMENT_RELEASE_INITIATED"
	ActionReleaseSuccess          = "DOCUMENT_RELEASE_SUCCESS"
	ActionReleaseError            = "DOCUMENT_RELEASE_ERROR"
	ActionReceivedByPopulated     = "RECEIVED_BY_FIELD_POPULATED"
)
