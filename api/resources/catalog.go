package resources

// Self-assignable roles. admin is granted out of band.
const selfAssignableRoles = "careseeker caregiver agency"

var CareRequests = &Schema{
	Name:        "Care request",
	Path:        "care_requests",
	Table:       "care_requests",
	OwnerColumn: "user_id",
	Fields: append([]Field{
		{Name: "location", Rule: "required,min=1"},
		{Name: "care_services_needed", Type: List, Rule: "required,min=1,dive,min=1"},
	}, careRequestDetails...),
	UpdateFields: append([]Field{
		{Name: "location", Rule: "min=1"},
		{Name: "care_services_needed", Type: List, Rule: "min=1,dive,min=1"},
		{Name: "status", Rule: "oneof=open closed filled cancelled"},
	}, careRequestDetails...),
	Filters: []Filter{
		{Param: "care_request_id", Column: "id"},
		{Param: "location", Column: "location", Op: OpILike},
		{Param: "care_services_needed", Column: "care_services_needed", Op: OpContains},
		{Param: "recipient_age_range", Column: "recipient_age_range"},
		{Param: "primary_location_type", Column: "primary_location_type"},
		{Param: "care_duration", Column: "care_duration"},
		{Param: "estimated_budget", Column: "estimated_budget"},
		{Param: "daily_working_hours", Column: "daily_working_hours"},
		{Param: "transportation_provided", Column: "transportation_provided"},
		{Param: "accommodation_provided", Column: "accommodation_provided"},
		{Param: "food_provided", Column: "food_provided"},
		{Param: "caregiver_requirements", Column: "caregiver_requirements", Op: OpILike},
		{Param: "excluded_schedule_days", Column: "excluded_schedule_days", Op: OpILike},
		{Param: "special_needs", Column: "special_needs", Op: OpILike},
		{Param: "additional_expectations", Column: "additional_expectations", Op: OpILike},
		{Param: "status", Column: "status"},
	},
	OrderBy:   "created_at",
	OrderDesc: true,
}

var careRequestDetails = []Field{
	{Name: "recipient_age_range"},
	{Name: "primary_location_type"},
	{Name: "care_duration"},
	{Name: "care_start_date_preference"},
	{Name: "specific_start_date", Rule: "datetime=2006-01-02"},
	{Name: "caregiver_requirements"},
	{Name: "transportation_provided", Type: Bool},
	{Name: "accommodation_provided", Type: Bool},
	{Name: "food_provided", Type: Bool},
	{Name: "daily_working_hours"},
	{Name: "excluded_schedule_days"},
	{Name: "estimated_budget"},
	{Name: "special_needs"},
	{Name: "additional_expectations"},
}

var InterviewRequests = &Schema{
	Name:        "Interview request",
	Path:        "interviews",
	Table:       "interview_requests",
	OwnerColumn: "requester_id",
	ReadOwners:  []string{"requester_id", "caregiver_user_id"},
	Fields: []Field{
		{Name: "care_request_id", Rule: "required,uuid"},
		{Name: "caregiver_user_id", Rule: "required,uuid"},
		{Name: "scheduled_date_time"},
		{Name: "message"},
	},
	UpdateFields: []Field{
		{Name: "message"},
		{Name: "status", Rule: "oneof=pending scheduled accepted declined completed cancelled"},
		{Name: "outcome_status"},
		{Name: "feedback"},
		{Name: "scheduled_date_time"},
	},
	Filters: []Filter{
		{Param: "requester_id", Column: "requester_id"},
		{Param: "caregiver_user_id", Column: "caregiver_user_id"},
		{Param: "care_request_id", Column: "care_request_id"},
		{Param: "status", Column: "status"},
	},
	UpdateGuard: []string{"requester_id", "caregiver_user_id"},
	OrderBy:     "created_at",
	OrderDesc:   true,
}

var CaregiverProfiles = &Schema{
	Name:         "Caregiver profile",
	Path:         "caregiver_profiles",
	Table:        "caregiver_profiles",
	OwnerColumn:  "user_id",
	Singleton:    true,
	Upsert:       true,
	Fields:       caregiverProfileFields,
	UpdateFields: caregiverProfileFields,
	LookupParam:  "caregiver_user_id",
}

var caregiverProfileFields = []Field{
	{Name: "care_services", Type: List, Rule: "dive,min=1"},
	{Name: "experience_description"},
	{Name: "certifications"},
	{Name: "education"},
	{Name: "schedule_preferences"},
	{Name: "availability_locations"},
	{Name: "limitations_expectations"},
	{Name: "expected_charges"},
	{Name: "start_immediately", Type: Bool},
	{Name: "age_range"},
	{Name: "full_name"},
	{Name: "avatar_url", Rule: "url"},
	{Name: "interview_availability"},
	{Name: "agency_id", Rule: "uuid"},
}

var Profiles = &Schema{
	Name:         "Profile",
	Path:         "profiles",
	Table:        "profiles",
	OwnerColumn:  "id",
	Singleton:    true,
	Upsert:       true,
	Fields:       profileFields,
	UpdateFields: profileFields,
}

var profileFields = []Field{
	{Name: "first_name"},
	{Name: "last_name"},
	{Name: "full_name"},
	{Name: "avatar_url", Rule: "url"},
	{Name: "phone_number", Rule: "max=32"},
	{Name: "address"},
}

var CareDisputes = &Schema{
	Name:        "Dispute",
	Path:        "care_disputes",
	Table:       "care_disputes",
	OwnerColumn: "care_receiver_user_id",
	Fields: []Field{
		{Name: "care_service_id", Rule: "required,uuid"},
		{Name: "care_request_id", Rule: "required,uuid"},
		{Name: "caregiver_user_id", Rule: "required,uuid"},
		{Name: "dispute_reason", Rule: "required,min=1"},
		{Name: "dispute_details"},
		{Name: "category"},
		{Name: "priority", Rule: "oneof=low medium high"},
	},
	UpdateFields: []Field{
		{Name: "status"},
		{Name: "resolved_at"},
		{Name: "dispute_details"},
		{Name: "admin_notes"},
		{Name: "assigned_admin_id", Rule: "uuid"},
		{Name: "category"},
		{Name: "priority", Rule: "oneof=low medium high"},
	},
	Filters: []Filter{
		{Param: "care_service_id", Column: "care_service_id"},
		{Param: "status", Column: "status"},
	},
	OrderBy:   "created_at",
	OrderDesc: true,
}

var CaregiverReferences = &Schema{
	Name:        "Reference",
	Path:        "caregiver_references",
	Table:       "caregiver_references",
	OwnerColumn: "caregiver_user_id",
	Fields: []Field{
		{Name: "name", Rule: "required,min=1"},
		{Name: "phone_number", Rule: "required,min=1,max=32"},
		{Name: "email", Rule: "required,email"},
	},
	UpdateFields: []Field{
		{Name: "status"},
		{Name: "referenced_by_user_id", Rule: "uuid"},
	},
}

var CaregiverReviews = &Schema{
	Name:        "Review",
	Path:        "caregiver_reviews",
	Table:       "caregiver_reviews",
	OwnerColumn: "reviewer_user_id",
	Fields: []Field{
		{Name: "caregiver_user_id", Rule: "required,uuid"},
		{Name: "rating", Type: Number, Rule: "required,min=1,max=5"},
		{Name: "review_text"},
	},
	UpdateFields: []Field{
		{Name: "rating", Type: Number, Rule: "min=1,max=5"},
		{Name: "review_text"},
	},
	Filters: []Filter{
		{Param: "caregiver_user_id", Column: "caregiver_user_id"},
	},
	OrderBy:   "created_at",
	OrderDesc: true,
}

var CareServices = &Schema{
	Name:        "Care service",
	Path:        "care_services",
	Table:       "care_services",
	OwnerColumn: "caregiver_user_id",
	Fields: append([]Field{
		{Name: "care_request_id", Rule: "required,uuid"},
		{Name: "status", Rule: "required,min=1"},
		{Name: "start_date", Rule: "datetime=2006-01-02"},
	}, careServiceTerms...),
	UpdateFields: append([]Field{
		{Name: "status", Rule: "min=1"},
		{Name: "caregiver_cancellation_response"},
		{Name: "cancellation_reason"},
	}, careServiceTerms...),
	Filters: []Filter{
		{Param: "care_request_id", Column: "care_request_id"},
		{Param: "status", Column: "status"},
	},
	UpdateGuard:  []string{"caregiver_user_id"},
	BeforeUpdate: markCancellationRequester,
	OrderBy:      "created_at",
	OrderDesc:    true,
}

var careServiceTerms = []Field{
	{Name: "end_date", Rule: "datetime=2006-01-02"},
	{Name: "working_hours"},
	{Name: "monthly_charges", Type: Number, Rule: "min=0"},
	{Name: "weekly_holiday"},
	{Name: "food_provided", Type: Bool},
	{Name: "transport_provided", Type: Bool},
	{Name: "assignment_notes"},
}

// markCancellationRequester records who asked for a cancellation.
func markCancellationRequester(callerID string, patch map[string]any) {
	if _, ok := patch["cancellation_reason"]; ok {
		patch["cancellation_requested_by"] = callerID
	}
}

var Agencies = &Schema{
	Name:        "Agency",
	Path:        "agencies",
	Table:       "agencies",
	OwnerColumn: "user_id",
	Singleton:   true,
	Fields: []Field{
		{Name: "agency_name", Rule: "required,min=1"},
		{Name: "contact_person", Rule: "required,min=1"},
		{Name: "phone_number", Rule: "required,min=1,max=32"},
		{Name: "business_address", Rule: "required,min=1"},
		{Name: "license_number"},
	},
	UpdateFields: []Field{
		{Name: "agency_name", Rule: "min=1"},
		{Name: "contact_person", Rule: "min=1"},
		{Name: "phone_number", Rule: "min=1,max=32"},
		{Name: "business_address", Rule: "min=1"},
		{Name: "license_number"},
	},
}

var Agreements = &Schema{
	Name:        "Agreement",
	Path:        "agreements",
	Table:       "agreements",
	OwnerColumn: "care_seeker_user_id",
	ReadOwners:  []string{"care_seeker_user_id", "caregiver_user_id"},
	Fields: []Field{
		{Name: "caregiver_user_id", Rule: "required,uuid"},
		{Name: "care_request_id", Rule: "required,uuid"},
		{Name: "care_application_id", Rule: "required,uuid"},
		{Name: "agent_id", Rule: "uuid"},
		{Name: "start_date", Rule: "required,datetime=2006-01-02"},
		{Name: "end_date", Rule: "required,datetime=2006-01-02"},
		{Name: "expiry_date", Rule: "datetime=2006-01-02"},
		{Name: "agreement_link", Rule: "url"},
	},
	UpdateFields: []Field{
		{Name: "start_date", Rule: "datetime=2006-01-02"},
		{Name: "end_date", Rule: "datetime=2006-01-02"},
		{Name: "expiry_date", Rule: "datetime=2006-01-02"},
		{Name: "agreement_link", Rule: "url"},
	},
	Filters: []Filter{
		{Param: "care_seeker_user_id", Column: "care_seeker_user_id"},
		{Param: "caregiver_user_id", Column: "caregiver_user_id"},
		{Param: "care_request_id", Column: "care_request_id"},
	},
	UpdateGuard: []string{"care_seeker_user_id", "caregiver_user_id"},
	OrderBy:     "created_at",
	OrderDesc:   true,
}

var HealthProfiles = &Schema{
	Name:         "Health profile",
	Path:         "health_profiles",
	Table:        "health_profiles",
	OwnerColumn:  "user_id",
	Singleton:    true,
	Upsert:       true,
	Fields:       healthProfileFields,
	UpdateFields: healthProfileFields,
}

var healthProfileFields = []Field{
	{Name: "date_of_birth", Rule: "datetime=2006-01-02"},
	{Name: "gender"},
	{Name: "height_cm", Type: Number, Rule: "gt=0"},
	{Name: "weight_kg", Type: Number, Rule: "gt=0"},
	{Name: "waist_circumference_cm", Type: Number, Rule: "gt=0"},
	{Name: "shirt_size"},
	{Name: "blood_group", Rule: "oneof=A+ A- B+ B- AB+ AB- O+ O-"},
	{Name: "blood_pressure_systolic", Type: Number, Rule: "gt=0"},
	{Name: "blood_pressure_diastolic", Type: Number, Rule: "gt=0"},
	{Name: "blood_glucose_fasting", Type: Number, Rule: "gte=0"},
	{Name: "blood_glucose_post_meal", Type: Number, Rule: "gte=0"},
	{Name: "cholesterol_total", Type: Number, Rule: "gte=0"},
	{Name: "oxygen_saturation", Type: Number, Rule: "gte=0,lte=100"},
	{Name: "pre_existing_conditions"},
	{Name: "allergies"},
	{Name: "recent_surgeries"},
	{Name: "diet_routine"},
	{Name: "diet_preferences"},
	{Name: "current_exercise_routine"},
	{Name: "preferred_exercises"},
	{Name: "ai_insights", Type: Any},
}

var healthProfileParent = &Parent{Table: "health_profiles", Key: "health_profile_id", OwnerColumn: "user_id"}

var HealthReports = &Schema{
	Name:   "Health report",
	Path:   "health_reports",
	Table:  "health_reports",
	Parent: healthProfileParent,
	Fields: []Field{
		{Name: "health_profile_id", Rule: "required,uuid"},
		{Name: "file_name", Rule: "required,min=1"},
		{Name: "storage_path", Rule: "required,min=1"},
		{Name: "caption"},
	},
	UpdateFields: []Field{
		{Name: "caption"},
	},
	OrderBy:   "created_at",
	OrderDesc: true,
}

var Medications = &Schema{
	Name:   "Medication",
	Path:   "medications",
	Table:  "medications",
	Parent: healthProfileParent,
	Fields: []Field{
		{Name: "health_profile_id", Rule: "required,uuid"},
		{Name: "name", Rule: "required,min=1"},
		{Name: "dosage"},
		{Name: "frequency"},
		{Name: "timing"},
	},
	UpdateFields: []Field{
		{Name: "dosage"},
		{Name: "frequency"},
		{Name: "timing"},
	},
	Filters: []Filter{
		{Param: "health_profile_id", Column: "health_profile_id"},
	},
	OrderBy:   "created_at",
	OrderDesc: true,
}

var DailyStatusReports = &Schema{
	Name:        "Daily status report",
	Path:        "daily_status_reports",
	Table:       "daily_status_reports",
	OwnerColumn: "caregiver_user_id",
	Fields: append([]Field{
		{Name: "care_service_id", Rule: "required,uuid"},
		{Name: "report_timestamp", Rule: "required,min=1"},
	}, dailyReportNotes...),
	UpdateFields: dailyReportNotes,
	Filters: []Filter{
		{Param: "care_service_id", Column: "care_service_id"},
	},
	OrderBy:   "report_timestamp",
	OrderDesc: true,
}

var dailyReportNotes = []Field{
	{Name: "health_report"},
	{Name: "mental_health_report"},
	{Name: "diet_routine"},
	{Name: "medicines_taken"},
	{Name: "other_notes"},
}

var CareStatusHistory = &Schema{
	Name:        "Status history entry",
	Path:        "care-status-history",
	Table:       "care_request_status_history",
	OwnerColumn: "changed_by_user_id",
	Fields: []Field{
		{Name: "care_request_id", Rule: "required,uuid"},
		{Name: "status", Rule: "required,min=1"},
		{Name: "changed_by_user_role", Rule: "required,oneof=careseeker caregiver agency admin"},
	},
	UpdateFields: []Field{
		{Name: "status", Rule: "min=1"},
		{Name: "changed_by_user_role", Rule: "oneof=careseeker caregiver agency admin"},
	},
	Filters: []Filter{
		{Param: "care_request_id", Column: "care_request_id"},
	},
	OrderBy:   "created_at",
	OrderDesc: true,
}

var DirectMessages = &Schema{
	Name:        "Message",
	Path:        "direct_messages",
	Table:       "direct_messages",
	OwnerColumn: "sender_id",
	ReadOwners:  []string{"sender_id", "receiver_id"},
	Fields: []Field{
		{Name: "receiver_id", Rule: "required,uuid"},
		{Name: "content", Rule: "required,min=1"},
	},
	UpdateFields: []Field{
		{Name: "content", Rule: "min=1"},
	},
	OrderBy: "created_at",
}

var UserRoles = &Schema{
	Name:        "Role",
	Path:        "user_roles",
	Table:       "user_roles",
	OwnerColumn: "user_id",
	Fields: []Field{
		{Name: "role", Rule: "required,oneof=" + selfAssignableRoles},
	},
	UpdateFields: []Field{
		{Name: "role", Rule: "oneof=" + selfAssignableRoles},
	},
}

var BackgroundCheckDocuments = &Schema{
	Name:        "Background check document",
	Path:        "background_check_documents",
	Table:       "background_check_documents",
	OwnerColumn: "user_id",
	Fields: []Field{
		{Name: "document_type", Rule: "required,min=1"},
		{Name: "file_name", Rule: "required,min=1"},
		{Name: "storage_path", Rule: "required,min=1"},
		{Name: "status"},
	},
	UpdateFields: []Field{
		{Name: "status"},
		{Name: "file_name", Rule: "min=1"},
		{Name: "storage_path", Rule: "min=1"},
	},
	OrderBy:   "created_at",
	OrderDesc: true,
}

// Catalog returns every declared resource.
func Catalog() *Registry {
	return NewRegistry(
		CareRequests,
		InterviewRequests,
		CaregiverProfiles,
		Profiles,
		CareDisputes,
		CaregiverReferences,
		CaregiverReviews,
		CareServices,
		Agencies,
		Agreements,
		HealthProfiles,
		HealthReports,
		Medications,
		DailyStatusReports,
		CareStatusHistory,
		DirectMessages,
		UserRoles,
		BackgroundCheckDocuments,
	)
}
