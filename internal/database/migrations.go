package database

// AppMigrations creates the map application schema and the anon role used
// for unauthenticated reads.
func AppMigrations() []Migration {
	return []Migration{
		{
			Name: "001_schema.sql",
			SQL: `
CREATE TABLE IF NOT EXISTS public.main_categories (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  color TEXT,
  icon TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS public.sub_categories (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  main_category_id BIGINT NOT NULL REFERENCES public.main_categories(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  color TEXT,
  icon TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE(main_category_id, name)
);

CREATE TABLE IF NOT EXISTS public.districts (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS public.neighborhoods (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  district_id BIGINT NOT NULL REFERENCES public.districts(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  UNIQUE(district_id, name)
);

CREATE TABLE IF NOT EXISTS public.map_settings (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  key TEXT NOT NULL UNIQUE,
  value JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS public.users (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  full_name TEXT,
  role TEXT NOT NULL DEFAULT 'normal' CHECK (role IN ('normal', 'editor', 'admin')),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS public.addresses (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  title TEXT NOT NULL,
  main_category_id BIGINT REFERENCES public.main_categories(id) ON DELETE SET NULL,
  sub_category_id BIGINT REFERENCES public.sub_categories(id) ON DELETE SET NULL,
  neighborhood_id BIGINT REFERENCES public.neighborhoods(id) ON DELETE SET NULL,
  street TEXT,
  phone TEXT,
  notes TEXT,
  latitude DOUBLE PRECISION,
  longitude DOUBLE PRECISION,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_by BIGINT REFERENCES public.users(id) ON DELETE SET NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_addresses_main_category ON public.addresses(main_category_id);
CREATE INDEX IF NOT EXISTS idx_addresses_neighborhood ON public.addresses(neighborhood_id);

CREATE TABLE IF NOT EXISTS public.activity_logs (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  user_id BIGINT REFERENCES public.users(id) ON DELETE SET NULL,
  action TEXT NOT NULL,
  table_name TEXT,
  record_id TEXT,
  details JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activity_logs_created ON public.activity_logs(created_at);
`,
		},
		{
			Name: "002_roles.sql",
			SQL: `
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'anon') THEN
    CREATE ROLE anon NOLOGIN;
  END IF;
END
$$;

GRANT anon TO CURRENT_USER;
GRANT USAGE ON SCHEMA public TO anon;

GRANT SELECT ON public.main_categories, public.sub_categories, public.districts,
  public.neighborhoods, public.map_settings TO anon;
GRANT SELECT, INSERT ON public.activity_logs TO anon;

ALTER TABLE public.main_categories ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.sub_categories ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.districts ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.neighborhoods ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.map_settings ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.addresses ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.users ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.activity_logs ENABLE ROW LEVEL SECURITY;

CREATE POLICY anon_read ON public.main_categories FOR SELECT TO anon USING (true);
CREATE POLICY anon_read ON public.sub_categories FOR SELECT TO anon USING (true);
CREATE POLICY anon_read ON public.districts FOR SELECT TO anon USING (true);
CREATE POLICY anon_read ON public.neighborhoods FOR SELECT TO anon USING (true);
CREATE POLICY anon_read ON public.map_settings FOR SELECT TO anon USING (true);

CREATE POLICY own_logs_read ON public.activity_logs FOR SELECT TO anon
  USING (user_id::text = current_setting('request.jwt.claim.sub', true));
CREATE POLICY own_logs_write ON public.activity_logs FOR INSERT TO anon
  WITH CHECK (user_id::text = current_setting('request.jwt.claim.sub', true));
`,
		},
	}
}
