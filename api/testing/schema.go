package apitesting

// PlatformSchema creates the subset of the hosted platform's tables that the
// migrations and direct-SQL code paths depend on. In production these are
// owned by the BaaS project, not by this service's migrations.
const PlatformSchema = `
CREATE TABLE IF NOT EXISTS care_requests (
    id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id     uuid NOT NULL,
    location    text,
    status      text NOT NULL DEFAULT 'open',
    created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS care_applications (
    id                 uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    care_request_id    uuid NOT NULL REFERENCES care_requests(id),
    caregiver_user_id  uuid NOT NULL,
    careseeker_user_id uuid,
    status             text NOT NULL DEFAULT 'pending',
    created_at         timestamptz NOT NULL DEFAULT now(),
    updated_at         timestamptz NOT NULL DEFAULT now()
);
`
